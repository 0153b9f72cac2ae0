package assignment

import (
	"errors"
	"fmt"
	"time"

	"github.com/ehr/clinical-engine/internal/platform/clinref"
)

type Action string

const (
	ActionPause    Action = "pause"
	ActionResume   Action = "resume"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
	ActionReject   Action = "reject"
)

func ParseAction(s string) (Action, error) {
	a := Action(s)
	if _, ok := transitions[a]; !ok {
		return "", fmt.Errorf("unknown action %q", s)
	}
	return a, nil
}

type transition struct {
	from []clinref.Status
	to   clinref.Status
}

var transitions = map[Action]transition{
	ActionPause:    {from: []clinref.Status{clinref.StatusActive}, to: clinref.StatusPaused},
	ActionResume:   {from: []clinref.Status{clinref.StatusPaused}, to: clinref.StatusActive},
	ActionComplete: {from: []clinref.Status{clinref.StatusActive, clinref.StatusPaused}, to: clinref.StatusCompleted},
	ActionCancel:   {from: []clinref.Status{clinref.StatusActive, clinref.StatusPaused}, to: clinref.StatusCancelled},
	ActionReject:   {from: []clinref.Status{clinref.StatusActive, clinref.StatusPaused}, to: clinref.StatusRejected},
}

// Target returns the status an action leads to.
func (a Action) Target() clinref.Status {
	return transitions[a].to
}

var ErrInvalidTransition = errors.New("invalid transition")

// InvalidTransitionError is returned for an action that is not legal from
// the assignment's current status.
type InvalidTransitionError struct {
	Kind   clinref.Kind
	Action Action
	From   clinref.Status
	To     clinref.Status
}

func (e *InvalidTransitionError) Error() string {
	if e.Action == ActionReject && !e.Kind.IsOrder() {
		return fmt.Sprintf("cannot reject %s %s assignment: only lab and instrumental orders can be rejected",
			article(string(e.Kind)), humanKind(e.Kind))
	}
	if e.Action == ActionPause && e.From == clinref.StatusPaused {
		return "cannot pause an assignment that is already paused"
	}
	if e.Action == ActionResume && e.From == clinref.StatusActive {
		return "cannot resume an assignment that is not paused"
	}
	return fmt.Sprintf("cannot %s %s %s assignment", e.Action, article(string(e.From)), e.From)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

func article(word string) string {
	if word == "" {
		return "a"
	}
	switch word[0] {
	case 'a', 'e', 'i', 'o', 'u':
		return "an"
	}
	return "a"
}

func humanKind(k clinref.Kind) string {
	switch k {
	case clinref.KindGeneralTreatment:
		return "general treatment"
	case clinref.KindLabOrder:
		return "lab order"
	case clinref.KindInstrumentalOrder:
		return "instrumental order"
	}
	return string(k)
}

// Apply performs action on a in memory. On error a is left untouched.
// It returns the status a had before the transition.
func Apply(a Assignment, action Action, actor, reason string, now time.Time) (clinref.Status, error) {
	b := a.Header()
	from := b.Status

	tr, ok := transitions[action]
	if !ok {
		return from, fmt.Errorf("unknown action %q", action)
	}
	if action == ActionReject && !a.Kind().IsOrder() {
		return from, &InvalidTransitionError{Kind: a.Kind(), Action: action, From: from, To: tr.to}
	}
	if !allowed(tr.from, from) {
		return from, &InvalidTransitionError{Kind: a.Kind(), Action: action, From: from, To: tr.to}
	}

	at := now
	by := strPtr(actor)
	why := optional(reason)

	switch action {
	case ActionPause:
		b.PausedAt, b.PausedBy, b.PauseReason = &at, by, why
	case ActionResume:
		b.clearPause()
	case ActionComplete:
		b.clearPause()
		b.CompletedAt, b.CompletedBy, b.CompletionNotes = &at, by, why
		if a.Kind().IsOrder() {
			// An order's end is its completion; a planned end does not survive.
			b.End = &at
		}
	case ActionCancel:
		b.clearPause()
		b.CancelledAt, b.CancelledBy, b.CancellationReason = &at, by, why
	case ActionReject:
		b.clearPause()
		b.RejectedAt, b.RejectedBy, b.RejectionReason = &at, by, why
	}
	b.Status = tr.to
	return from, nil
}

func allowed(from []clinref.Status, s clinref.Status) bool {
	for _, f := range from {
		if f == s {
			return true
		}
	}
	return false
}

func (b *Base) clearPause() {
	b.PausedAt, b.PausedBy, b.PauseReason = nil, nil, nil
}

// CheckInvariant verifies that the audit fields agree with the status.
func CheckInvariant(a Assignment) error {
	b := a.Header()
	completed := b.CompletedAt != nil || b.CompletedBy != nil || b.CompletionNotes != nil
	cancelled := b.CancelledAt != nil || b.CancelledBy != nil || b.CancellationReason != nil
	rejected := b.RejectedAt != nil || b.RejectedBy != nil || b.RejectionReason != nil
	paused := b.PausedAt != nil || b.PausedBy != nil || b.PauseReason != nil

	want := map[clinref.Status][4]bool{
		clinref.StatusActive:    {false, false, false, false},
		clinref.StatusPaused:    {true, false, false, false},
		clinref.StatusCompleted: {false, true, false, false},
		clinref.StatusCancelled: {false, false, true, false},
		clinref.StatusRejected:  {false, false, false, true},
	}
	w, ok := want[b.Status]
	if !ok {
		return fmt.Errorf("unknown status %q", b.Status)
	}
	got := [4]bool{paused, completed, cancelled, rejected}
	if got != w {
		return fmt.Errorf("audit fields disagree with status %q", b.Status)
	}
	if b.Status == clinref.StatusPaused && b.PausedAt == nil {
		return fmt.Errorf("paused assignment without paused_at")
	}
	if b.Status.Terminal() {
		var at *time.Time
		switch b.Status {
		case clinref.StatusCompleted:
			at = b.CompletedAt
		case clinref.StatusCancelled:
			at = b.CancelledAt
		case clinref.StatusRejected:
			at = b.RejectedAt
		}
		if at == nil {
			return fmt.Errorf("%s assignment without timestamp", b.Status)
		}
	}
	if b.Status == clinref.StatusRejected && !a.Kind().IsOrder() {
		return fmt.Errorf("%s assignments cannot be rejected", a.Kind())
	}
	return nil
}

func strPtr(s string) *string { return &s }

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
