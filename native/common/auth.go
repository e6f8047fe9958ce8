package common

import (
	"errors"

	"pynthchain/crypto"
)

var ErrUnauthorized = errors.New("unauthorized caller")

// RequireCaller succeeds when caller matches one of the allowed addresses.
// Zero addresses in the allow list are ignored so an unconfigured role never
// authorizes anyone.
func RequireCaller(caller crypto.Address, allowed ...crypto.Address) error {
	if caller.IsZero() {
		return ErrUnauthorized
	}
	for _, addr := range allowed {
		if addr.IsZero() {
			continue
		}
		if addr == caller {
			return nil
		}
	}
	return ErrUnauthorized
}
