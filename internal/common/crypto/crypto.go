// Package crypto provides masking for sensitive identifiers before they
// leave the service in API responses or logs.
package crypto

// MaskEmail hides the local part of an email address.
func MaskEmail(email string) string {
	for i, c := range email {
		if c == '@' {
			if i <= 2 {
				return email
			}
			return email[:2] + "***" + email[i:]
		}
	}
	return email
}

// MaskGatewayAccount hides the middle of a gateway account reference,
// keeping enough of each end to recognize the account.
func MaskGatewayAccount(id string) string {
	if len(id) < 8 {
		return "****"
	}
	return id[:4] + "****" + id[len(id)-4:]
}
