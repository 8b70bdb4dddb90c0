package forms

import (
	"errors"
	"fmt"
	"time"

	"icsforms/core/store"
)

// ErrInvalidTransition reports a lifecycle operation applied to a form in
// the wrong state. Transitions fail loudly; there is no silent no-op.
var ErrInvalidTransition = errors.New("invalid state transition")

type TransitionError struct {
	Op   string
	From FormState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s form in state %s", e.Op, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func transitionErr(op string, from FormState) error {
	return &TransitionError{Op: op, From: from}
}

// Approve moves a draft to approved and stamps the approval time. The
// approval signature itself lives in the payload and is enforced by
// Validate for the approved state.
func Approve(form *store.Form, now time.Time) error {
	if FormState(form.State) != StateDraft {
		return transitionErr("approve", FormState(form.State))
	}
	form.State = string(StateApproved)
	at := now.UTC()
	form.ApprovedAt = &at
	return nil
}

// Transmit sends a form out over whatever channel the operator uses.
// Drafts may be transmitted without approval; ICS-213 practice allows it.
func Transmit(form *store.Form, now time.Time) error {
	switch FormState(form.State) {
	case StateDraft, StateApproved:
	default:
		return transitionErr("transmit", FormState(form.State))
	}
	form.State = string(StateTransmitted)
	at := now.UTC()
	form.TransmittedAt = &at
	return nil
}

// Receive records the receiving station's acknowledgement.
func Receive(form *store.Form, now time.Time) error {
	if FormState(form.State) != StateTransmitted {
		return transitionErr("receive", FormState(form.State))
	}
	form.State = string(StateReceived)
	at := now.UTC()
	form.ReceivedAt = &at
	return nil
}

// Reply completes the message exchange. The reply text and author are
// payload fields enforced by Validate for the replied state.
func Reply(form *store.Form, now time.Time) error {
	if FormState(form.State) != StateReceived {
		return transitionErr("reply", FormState(form.State))
	}
	form.State = string(StateReplied)
	at := now.UTC()
	form.RepliedAt = &at
	return nil
}

// Return sends a received form back to the originator without a reply.
func Return(form *store.Form, now time.Time) error {
	if FormState(form.State) != StateReceived {
		return transitionErr("return", FormState(form.State))
	}
	form.State = string(StateReturned)
	at := now.UTC()
	form.ReturnedAt = &at
	return nil
}

// Archive closes out a form that has finished its exchange. Draft and
// approved forms cannot be archived; delete them instead.
func Archive(form *store.Form, now time.Time) error {
	switch FormState(form.State) {
	case StateTransmitted, StateReceived, StateReplied, StateReturned:
	default:
		return transitionErr("archive", FormState(form.State))
	}
	form.State = string(StateArchived)
	at := now.UTC()
	form.ArchivedAt = &at
	return nil
}
