package domain

import "fmt"

// OutcomeKind classifies the result of submitting one reading.
type OutcomeKind int

const (
	OutcomeAccepted OutcomeKind = iota + 1
	// OutcomeDuplicate means the gate already holds this (device, counter)
	// pair. It is an expected consequence of retried submissions, not a fault.
	OutcomeDuplicate
	OutcomeRejected
	OutcomeTransportFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeRejected:
		return "rejected"
	case OutcomeTransportFailure:
		return "transport_failure"
	default:
		return "unknown"
	}
}

// Outcome is the terminal result of one delivery attempt.
type Outcome struct {
	Kind      OutcomeKind
	ReadingID ReadingID
	Status    int
	Detail    string
}

// IsFault reports whether the outcome should be logged as an error.
// Duplicates are treated like acceptances.
func (o Outcome) IsFault() bool {
	return o.Kind == OutcomeRejected || o.Kind == OutcomeTransportFailure
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeAccepted:
		return fmt.Sprintf("accepted(%s)", o.ReadingID)
	case OutcomeRejected:
		return fmt.Sprintf("rejected(%d: %s)", o.Status, o.Detail)
	case OutcomeTransportFailure:
		return fmt.Sprintf("transport_failure(%s)", o.Detail)
	default:
		return o.Kind.String()
	}
}
