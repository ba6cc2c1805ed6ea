package affiliate

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/shopora/affiliate-backend/internal/common/errors"
	"github.com/shopora/affiliate-backend/internal/common/logger"
	"github.com/shopora/affiliate-backend/internal/common/utils"
	"github.com/shopora/affiliate-backend/internal/repository"
	"github.com/shopora/affiliate-backend/pkg/oss"
)

const (
	exportPageSize  = 500
	exportURLExpiry = 24 * time.Hour
)

// ExportService writes affiliate statements as CSV to object storage
// and hands back signed download links.
type ExportService struct {
	commissionRepo *repository.CommissionRepository
	payoutRepo     *repository.PayoutRepository
	uploader       oss.Uploader
}

// NewExportService creates the export service.
func NewExportService(
	commissionRepo *repository.CommissionRepository,
	payoutRepo *repository.PayoutRepository,
	uploader oss.Uploader,
) *ExportService {
	return &ExportService{
		commissionRepo: commissionRepo,
		payoutRepo:     payoutRepo,
		uploader:       uploader,
	}
}

// ExportResult points at a finished export.
type ExportResult struct {
	ObjectKey string `json:"object_key"`
	URL       string `json:"url"`
	Rows      int    `json:"rows"`
	ExpiresAt string `json:"expires_at"`
}

// ExportCommissions writes the affiliate's commissions in the given
// window to a CSV statement.
func (s *ExportService) ExportCommissions(ctx context.Context, affiliateID int64, startTime, endTime *time.Time) (*ExportResult, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"commission_id", "transaction_id", "source_type", "status",
		"purchase_amount", "commission_type", "commission_rate",
		"commission_amount", "hold_until", "approved_at", "paid_at", "created_at",
	}
	if err := w.Write(header); err != nil {
		return nil, errors.ErrInternalError.WithError(err)
	}

	filters := map[string]interface{}{}
	if startTime != nil {
		filters["start_time"] = *startTime
	}
	if endTime != nil {
		filters["end_time"] = *endTime
	}

	rows := 0
	for offset := 0; ; offset += exportPageSize {
		commissions, _, err := s.commissionRepo.ListByAffiliate(ctx, affiliateID, offset, exportPageSize, filters)
		if err != nil {
			return nil, errors.ErrDatabaseError.WithError(err)
		}
		if len(commissions) == 0 {
			break
		}
		for _, c := range commissions {
			record := []string{
				strconv.FormatInt(c.ID, 10),
				c.TransactionID,
				c.SourceType,
				c.Status,
				utils.FormatMoney(c.PurchaseAmount),
				c.CommissionType,
				strconv.FormatFloat(c.CommissionRate, 'f', 4, 64),
				utils.FormatMoney(c.CommissionAmount),
				c.HoldUntil.Format(time.RFC3339),
				formatOptionalTime(c.ApprovedAt),
				formatOptionalTime(c.PaidAt),
				c.CreatedAt.Format(time.RFC3339),
			}
			if err := w.Write(record); err != nil {
				return nil, errors.ErrInternalError.WithError(err)
			}
			rows++
		}
		if len(commissions) < exportPageSize {
			break
		}
	}

	filename := fmt.Sprintf("commissions_%d.csv", affiliateID)
	return s.finish(ctx, &buf, w, "statements/commissions", filename, rows)
}

// ExportPayouts writes the affiliate's payout history to CSV.
func (s *ExportService) ExportPayouts(ctx context.Context, affiliateID int64) (*ExportResult, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"payout_no", "amount", "status", "gateway_transfer_id",
		"failure_reason", "processed_at", "completed_at", "created_at",
	}
	if err := w.Write(header); err != nil {
		return nil, errors.ErrInternalError.WithError(err)
	}

	rows := 0
	for offset := 0; ; offset += exportPageSize {
		payouts, _, err := s.payoutRepo.ListByAffiliate(ctx, affiliateID, offset, exportPageSize)
		if err != nil {
			return nil, errors.ErrDatabaseError.WithError(err)
		}
		if len(payouts) == 0 {
			break
		}
		for _, p := range payouts {
			record := []string{
				p.PayoutNo,
				utils.FormatMoney(p.Amount),
				p.Status,
				derefString(p.GatewayTransferID),
				derefString(p.FailureReason),
				formatOptionalTime(p.ProcessedAt),
				formatOptionalTime(p.CompletedAt),
				p.CreatedAt.Format(time.RFC3339),
			}
			if err := w.Write(record); err != nil {
				return nil, errors.ErrInternalError.WithError(err)
			}
			rows++
		}
		if len(payouts) < exportPageSize {
			break
		}
	}

	filename := fmt.Sprintf("payouts_%d.csv", affiliateID)
	return s.finish(ctx, &buf, w, "statements/payouts", filename, rows)
}

// ExportPayoutLineItems writes the commissions covered by one payout.
func (s *ExportService) ExportPayoutLineItems(ctx context.Context, payoutID int64) (*ExportResult, error) {
	payout, err := s.payoutRepo.GetByID(ctx, payoutID)
	if err != nil {
		return nil, errors.ErrPayoutNotFound.WithError(err)
	}

	commissions, err := s.commissionRepo.ListByPayoutID(ctx, payoutID)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"payout_no", "commission_id", "transaction_id", "purchase_amount", "commission_amount", "paid_at"}
	if err := w.Write(header); err != nil {
		return nil, errors.ErrInternalError.WithError(err)
	}

	for _, c := range commissions {
		record := []string{
			payout.PayoutNo,
			strconv.FormatInt(c.ID, 10),
			c.TransactionID,
			utils.FormatMoney(c.PurchaseAmount),
			utils.FormatMoney(c.CommissionAmount),
			formatOptionalTime(c.PaidAt),
		}
		if err := w.Write(record); err != nil {
			return nil, errors.ErrInternalError.WithError(err)
		}
	}

	filename := fmt.Sprintf("payout_%s.csv", payout.PayoutNo)
	return s.finish(ctx, &buf, w, "statements/payout_items", filename, len(commissions))
}

// finish flushes the CSV, uploads it and signs a download link.
func (s *ExportService) finish(ctx context.Context, buf *bytes.Buffer, w *csv.Writer, prefix, filename string, rows int) (*ExportResult, error) {
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, errors.ErrInternalError.WithError(err)
	}

	objectKey := oss.GenerateObjectKey(prefix, filename)
	if _, err := s.uploader.Upload(ctx, objectKey, bytes.NewReader(buf.Bytes())); err != nil {
		return nil, errors.ErrExternalService.WithError(err)
	}

	url, err := s.uploader.GetSignedURL(objectKey, exportURLExpiry)
	if err != nil {
		return nil, errors.ErrExternalService.WithError(err)
	}

	logger.Info("statement exported", logger.Action("export"))

	return &ExportResult{
		ObjectKey: objectKey,
		URL:       url,
		Rows:      rows,
		ExpiresAt: time.Now().Add(exportURLExpiry).Format(time.RFC3339),
	}, nil
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
