package vault

import "fmt"

// Compartment is a named durable bucket. A document lives in exactly one
// compartment at a time, and membership is the sole source of truth for the
// document's lifecycle state.
type Compartment string

const (
	Inbox           Compartment = "Inbox"
	InProgress      Compartment = "In_Progress"
	PendingApproval Compartment = "Pending_Approval"
	Approved        Compartment = "Approved"
	Rejected        Compartment = "Rejected"
	Done            Compartment = "Done"
	Failed          Compartment = "Failed"
	NeedsAction     Compartment = "Needs_Action"
)

// Compartments lists every compartment in vault layout order.
var Compartments = []Compartment{
	Inbox,
	InProgress,
	PendingApproval,
	Approved,
	Rejected,
	Done,
	Failed,
	NeedsAction,
}

// Transient compartments hold documents that some worker is expected to move
// onward. Documents stuck here past the liveness threshold are reclaimed by
// the sweeper.
func (c Compartment) Transient() bool {
	return c == InProgress || c == PendingApproval
}

// Terminal compartments are append-mostly: documents arrive and stay.
func (c Compartment) Terminal() bool {
	return c == Done || c == Rejected || c == Failed
}

// Valid reports whether c names a known compartment.
func (c Compartment) Valid() bool {
	for _, known := range Compartments {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCompartment converts a string into a known compartment.
func ParseCompartment(value string) (Compartment, error) {
	c := Compartment(value)
	if !c.Valid() {
		return "", fmt.Errorf("vault: unknown compartment %q", value)
	}
	return c, nil
}
