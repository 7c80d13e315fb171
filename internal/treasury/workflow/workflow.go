// Package workflow holds the approval and edit-request state machine shared by
// payments and fund transfers.
package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-treasury/internal/shared"
)

// Status is the lifecycle status. The numeric values are the stored codes.
type Status int

const (
	StatusApproved  Status = 1
	StatusRejected  Status = 2
	StatusDraft     Status = 3
	StatusSubmitted Status = 8
)

var statusNames = map[Status]string{
	StatusApproved:  "APPROVED",
	StatusRejected:  "REJECTED",
	StatusDraft:     "DRAFT",
	StatusSubmitted: "SUBMITTED_FOR_APPROVAL",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATUS(%d)", int(s))
}

// Valid reports whether s is one of the known codes.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// MarshalText renders the status name.
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("workflow: unknown status %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus parses a status name.
func ParseStatus(name string) (Status, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for status, n := range statusNames {
		if n == name {
			return status, nil
		}
	}
	return 0, shared.Validationf("unknown status %q", name)
}

// EditRequestStatus tracks the edit-request sub flow of an approved record.
type EditRequestStatus string

const (
	EditRequestNone     EditRequestStatus = "NONE"
	EditRequestPending  EditRequestStatus = "PENDING"
	EditRequestApproved EditRequestStatus = "APPROVED"
	EditRequestRejected EditRequestStatus = "REJECTED"
)

// Action triggers a transition.
type Action string

const (
	ActionSubmit             Action = "submit"
	ActionApprove            Action = "approve"
	ActionReject             Action = "reject"
	ActionEdit               Action = "edit"
	ActionDelete             Action = "delete"
	ActionRequestEdit        Action = "request_edit"
	ActionApproveEditRequest Action = "approve_edit_request"
	ActionRejectEditRequest  Action = "reject_edit_request"
)

// Actions lists every action in a stable order.
var Actions = []Action{
	ActionSubmit, ActionApprove, ActionReject, ActionEdit, ActionDelete,
	ActionRequestEdit, ActionApproveEditRequest, ActionRejectEditRequest,
}

// State is the pair the state machine operates on.
type State struct {
	Status      Status
	EditRequest EditRequestStatus
}

func (s State) String() string {
	if s.EditRequest == "" || s.EditRequest == EditRequestNone {
		return s.Status.String()
	}
	return s.Status.String() + "/" + string(s.EditRequest)
}

func (s State) normalized() State {
	if s.EditRequest == "" {
		s.EditRequest = EditRequestNone
	}
	return s
}

type rule func(State) (State, bool)

var rules = map[Action]rule{
	ActionSubmit: func(s State) (State, bool) {
		if s.Status != StatusDraft {
			return s, false
		}
		s.Status = StatusSubmitted
		return s, true
	},
	ActionApprove: func(s State) (State, bool) {
		if s.Status != StatusSubmitted {
			return s, false
		}
		s.Status = StatusApproved
		return s, true
	},
	ActionReject: func(s State) (State, bool) {
		if s.Status != StatusSubmitted {
			return s, false
		}
		s.Status = StatusRejected
		return s, true
	},
	ActionEdit: func(s State) (State, bool) {
		switch s.Status {
		case StatusDraft, StatusSubmitted, StatusRejected:
		default:
			return s, false
		}
		if s.EditRequest == EditRequestPending {
			return s, false
		}
		s.Status = StatusDraft
		if s.EditRequest == EditRequestApproved {
			s.EditRequest = EditRequestNone
		}
		return s, true
	},
	ActionDelete: func(s State) (State, bool) {
		return s, s.Status == StatusDraft
	},
	ActionRequestEdit: func(s State) (State, bool) {
		if s.Status != StatusApproved || s.EditRequest == EditRequestPending {
			return s, false
		}
		s.EditRequest = EditRequestPending
		return s, true
	},
	ActionApproveEditRequest: func(s State) (State, bool) {
		if s.Status != StatusApproved || s.EditRequest != EditRequestPending {
			return s, false
		}
		return State{Status: StatusDraft, EditRequest: EditRequestApproved}, true
	},
	ActionRejectEditRequest: func(s State) (State, bool) {
		if s.Status != StatusApproved || s.EditRequest != EditRequestPending {
			return s, false
		}
		s.EditRequest = EditRequestRejected
		return s, true
	},
}

// Transition applies action to from. Any pair outside the transition table
// is a validation error and from is returned unchanged.
func Transition(from State, action Action) (State, error) {
	from = from.normalized()
	r, ok := rules[action]
	if !ok {
		return from, shared.Validationf("unknown action %q", action)
	}
	to, ok := r(from)
	if !ok {
		return from, shared.Validationf("cannot %s a record in state %s", strings.ReplaceAll(string(action), "_", " "), from)
	}
	return to, nil
}

// CheckReviewer enforces that an edit request is reviewed by someone other
// than the actor who raised it.
func CheckReviewer(requestedBy *int64, reviewer int64) error {
	if reviewer == 0 {
		return shared.Validationf("reviewer is required")
	}
	if requestedBy != nil && *requestedBy == reviewer {
		return shared.Validationf("edit request must be reviewed by a different user")
	}
	return nil
}

// Change is one applied transition together with its audit data.
type Change struct {
	Action Action
	To     State
	Actor  int64
	At     time.Time
	Reason string
}

// UpdateStatement builds a conditional status write for table. The statement
// matches no row when the record has left state from in the meantime, which
// callers report as a concurrent modification.
func UpdateStatement(table string, id int64, from State, c Change) (string, []any) {
	from = from.normalized()
	to := c.To.normalized()
	args := []any{id, int(to.Status), string(to.EditRequest)}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	sets := []string{"status = $2", "edit_request_status = $3", "updated_at = NOW()"}
	switch c.Action {
	case ActionSubmit:
		sets = append(sets, "submitted_by = "+arg(c.Actor), "submitted_at = "+arg(c.At))
	case ActionApprove:
		sets = append(sets, "approved_by = "+arg(c.Actor), "approved_at = "+arg(c.At))
	case ActionReject:
		sets = append(sets, "rejected_by = "+arg(c.Actor), "rejected_at = "+arg(c.At), "rejection_reason = "+arg(c.Reason))
	case ActionRequestEdit:
		sets = append(sets, "edit_requested_by = "+arg(c.Actor), "edit_requested_at = "+arg(c.At), "edit_request_reason = "+arg(c.Reason))
	case ActionApproveEditRequest:
		sets = append(sets, "edit_reviewed_by = "+arg(c.Actor), "edit_reviewed_at = "+arg(c.At), "edit_rejection_reason = ''")
	case ActionRejectEditRequest:
		sets = append(sets, "edit_reviewed_by = "+arg(c.Actor), "edit_reviewed_at = "+arg(c.At), "edit_rejection_reason = "+arg(c.Reason))
	}
	where := fmt.Sprintf("id = $1 AND status = %s AND edit_request_status = %s AND NOT is_deleted",
		arg(int(from.Status)), arg(string(from.EditRequest)))
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s", table, strings.Join(sets, ", "), where), args
}
