package subscription

import "time"

// AccessState is the access level derived from a tenant's payment-failure
// timeline. States are ordered from least to most restrictive.
type AccessState int

const (
	StateActive AccessState = iota
	StateRestricted
	StateLocked
	StateSuspended
	StateTerminated
)

var stateNames = [...]string{"active", "restricted", "locked", "suspended", "terminated"}

func (s AccessState) String() string {
	if s < StateActive || s > StateTerminated {
		return "unknown"
	}
	return stateNames[s]
}

func (s AccessState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

const day = 24 * time.Hour

// Resolve maps a payment-failure timestamp to an access state. Elapsed days
// are floored and computed on UTC instants; a failure timestamp in the future
// counts as day zero.
func Resolve(paymentFailedAt *time.Time, now time.Time) AccessState {
	if paymentFailedAt == nil {
		return StateActive
	}

	days := int64(now.UTC().Sub(paymentFailedAt.UTC()) / day)
	switch {
	case days <= 0:
		return StateActive
	case days <= 7:
		return StateRestricted
	case days <= 14:
		return StateLocked
	case days <= 30:
		return StateSuspended
	default:
		return StateTerminated
	}
}
