package engine

import "fmt"

// Reason identifies why an attempt was denied. The strings are part of the
// external API: clients rely on them to tell "wrong password" from "gone".
type Reason string

const (
	ReasonNotFound         Reason = "not_found"
	ReasonExpired          Reason = "expired"
	ReasonExhausted        Reason = "exhausted"
	ReasonUnauthorized     Reason = "unauthorized"
	ReasonForbidden        Reason = "forbidden"
	ReasonPolicyDenied     Reason = "policy_denied"
	ReasonStoreUnavailable Reason = "store_unavailable"
)

// Denial is a terminal, expected outcome of an admission check or a view
// attempt. It is not an infrastructure error and is never retried here.
type Denial struct {
	Reason  Reason
	Message string
}

func (d *Denial) Error() string {
	return fmt.Sprintf("%s: %s", d.Reason, d.Message)
}

func deny(reason Reason, message string) *Denial {
	return &Denial{Reason: reason, Message: message}
}

// AsDenial unwraps a Denial from an error, if there is one.
func AsDenial(err error) (*Denial, bool) {
	d, ok := err.(*Denial)
	return d, ok
}
