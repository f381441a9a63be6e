package discovery

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingAddressRecord means an SRV target had no matching A/AAAA
	// record in the response.
	ErrMissingAddressRecord = errors.New("missing address record")

	// ErrServiceUnresolvable means the DNS query itself failed for every
	// search domain (transport error, timeout, NXDOMAIN or no SRV answer).
	ErrServiceUnresolvable = errors.New("service unresolvable")
)

// LookupError carries the service name and the last query failure. It
// matches ErrServiceUnresolvable with errors.Is.
type LookupError struct {
	Service string
	Cause   error
}

func (e *LookupError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("resolve %s: %v", e.Service, e.Cause)
	}
	return fmt.Sprintf("resolve %s: %v", e.Service, ErrServiceUnresolvable)
}

func (e *LookupError) Unwrap() error {
	return e.Cause
}

func (e *LookupError) Is(target error) bool {
	return target == ErrServiceUnresolvable
}
