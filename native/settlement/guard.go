package settlement

import "fmt"

// CheckExpiry rejects payments whose expiry is strictly before now. It must
// run before any balance is read or written.
func CheckExpiry(p Payment, now int64) error {
	if now > p.Expiry {
		return fmt.Errorf("%w: expiry %d, now %d", ErrPaymentExpired, p.Expiry, now)
	}
	return nil
}
