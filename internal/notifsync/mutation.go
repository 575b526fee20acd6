package notifsync

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a settled mutation is settled again.
var ErrInvalidTransition = errors.New("notifsync: mutation already settled")

// MutationState is where an optimistic write stands.
type MutationState int

const (
	Pending MutationState = iota
	Confirmed
	RolledBack
)

func (s MutationState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case RolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("MutationState(%d)", int(s))
	}
}

// Mutation is one optimistic read-flag change. It starts Pending and ends
// either Confirmed by the server or RolledBack to Previous.
type Mutation struct {
	NotificationID string
	MessageID      uint
	Previous       bool
	Next           bool
	State          MutationState
	Err            error
}

func newMutation(notificationID string, messageID uint, previous, next bool) *Mutation {
	return &Mutation{
		NotificationID: notificationID,
		MessageID:      messageID,
		Previous:       previous,
		Next:           next,
		State:          Pending,
	}
}

// Confirm settles the mutation as accepted by the server.
func (m *Mutation) Confirm() error {
	if m.State != Pending {
		return ErrInvalidTransition
	}
	m.State = Confirmed
	return nil
}

// RollBack settles the mutation as failed; the local value returns to Previous.
func (m *Mutation) RollBack(cause error) error {
	if m.State != Pending {
		return ErrInvalidTransition
	}
	m.State = RolledBack
	m.Err = cause
	return nil
}

// Value is the read flag the entity should show in the current state.
func (m *Mutation) Value() bool {
	if m.State == RolledBack {
		return m.Previous
	}
	return m.Next
}
