package wire

import (
	"encoding/json"
	"fmt"
)

// Kind is the envelope type tag. Unknown kinds are valid and decode to Unknown.
type Kind string

const (
	KindIssueCreated    Kind = "issue_created"
	KindIssueUpdated    Kind = "issue_updated"
	KindIssueDeleted    Kind = "issue_deleted"
	KindStatusChanged   Kind = "status_changed"
	KindCommentAdded    Kind = "comment_added"
	KindRepairScheduled Kind = "repair_scheduled"
	KindLocationAdded   Kind = "location_added"
	KindMachineAdded    Kind = "machine_added"
	KindUserLoggedIn    Kind = "user_logged_in"
	KindUserLoggedOut   Kind = "user_logged_out"
	KindDataRefresh     Kind = "data_refresh"

	// KindMessage is both a concrete broadcast type and the dispatcher wildcard.
	KindMessage Kind = "message"
)

// KnownKinds are the types the ingestion path turns into notifications.
var KnownKinds = []Kind{
	KindIssueCreated,
	KindIssueUpdated,
	KindIssueDeleted,
	KindStatusChanged,
	KindCommentAdded,
	KindRepairScheduled,
	KindLocationAdded,
	KindMachineAdded,
	KindUserLoggedIn,
	KindUserLoggedOut,
}

func (k Kind) String() string { return string(k) }

// Known reports whether k is a kind the server is known to send.
func (k Kind) Known() bool {
	if k == KindMessage || k == KindDataRefresh {
		return true
	}
	for _, kk := range KnownKinds {
		if kk == k {
			return true
		}
	}
	return false
}

// Event is the closed set of typed payloads. Unknown covers everything else.
type Event interface {
	Kind() Kind
}

// IssueChanged is sent for issue_created and issue_updated.
type IssueChanged struct {
	Op            Kind       `json:"-"`
	IssueID       FlexInt    `json:"issueId"`
	ID            FlexInt    `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Location      string     `json:"location,omitempty"`
	Status        string     `json:"status,omitempty"`
	Priority      string     `json:"priority,omitempty"`
	ReportedBy    string     `json:"reportedBy,omitempty"`
	ReporterName  string     `json:"reportedByName,omitempty"`
	ReporterID    FlexInt    `json:"reporterId,omitempty"`
	UserID        FlexInt    `json:"userId,omitempty"`
	AssigneeID    FlexInt    `json:"assignedToId,omitempty"`
	FixedByID     FlexInt    `json:"fixedById,omitempty"`
	ScheduledDate FlexString `json:"scheduledDate,omitempty"`
}

func (e IssueChanged) Kind() Kind { return e.Op }

// IssueKey returns issueId, falling back to id (full issue rows).
func (e IssueChanged) IssueKey() int64 {
	if e.IssueID != 0 {
		return int64(e.IssueID)
	}
	return int64(e.ID)
}

// Reporter returns the best available reporter name.
func (e IssueChanged) Reporter() string {
	if e.ReportedBy != "" {
		return e.ReportedBy
	}
	return e.ReporterName
}

type IssueDeleted struct {
	IssueID FlexInt `json:"issueId"`
	Title   string  `json:"title,omitempty"`
}

func (IssueDeleted) Kind() Kind { return KindIssueDeleted }

type StatusChanged struct {
	IssueID       FlexInt `json:"issueId"`
	IssueTitle    string  `json:"issueTitle,omitempty"`
	Title         string  `json:"title,omitempty"`
	OldStatus     string  `json:"oldStatus,omitempty"`
	NewStatus     string  `json:"newStatus"`
	ChangedByID   FlexInt `json:"changedById,omitempty"`
	ChangedByName string  `json:"changedByName,omitempty"`
	Notes         string  `json:"notes,omitempty"`
}

func (StatusChanged) Kind() Kind { return KindStatusChanged }

// DisplayTitle prefers the issue title and falls back to #id.
func (e StatusChanged) DisplayTitle() string {
	switch {
	case e.IssueTitle != "":
		return e.IssueTitle
	case e.Title != "":
		return e.Title
	default:
		return fmt.Sprintf("#%d", int64(e.IssueID))
	}
}

type CommentAdded struct {
	ID         FlexInt `json:"id,omitempty"`
	IssueID    FlexInt `json:"issueId"`
	IssueTitle string  `json:"issueTitle,omitempty"`
	UserID     FlexInt `json:"userId"`
	Username   string  `json:"username"`
	Content    string  `json:"content"`
}

func (CommentAdded) Kind() Kind { return KindCommentAdded }

type RepairScheduled struct {
	IssueID           FlexInt    `json:"issueId"`
	Title             string     `json:"title"`
	Location          string     `json:"location,omitempty"`
	ScheduledDate     FlexString `json:"scheduledDate,omitempty"`
	ScheduledTime     string     `json:"scheduledTime,omitempty"`
	ScheduledDateTime string     `json:"scheduledDateTime,omitempty"`
	ScheduledBy       string     `json:"scheduledBy,omitempty"`
	TechnicianID      FlexInt    `json:"technicianId,omitempty"`
	Notes             string     `json:"notes,omitempty"`
}

func (RepairScheduled) Kind() Kind { return KindRepairScheduled }

// When renders the schedule for display.
func (e RepairScheduled) When() string {
	switch {
	case e.ScheduledDate != "" && e.ScheduledTime != "":
		return string(e.ScheduledDate) + " " + e.ScheduledTime
	case e.ScheduledDate != "":
		return string(e.ScheduledDate)
	default:
		return e.ScheduledDateTime
	}
}

type LocationAdded struct {
	ID      FlexInt `json:"id,omitempty"`
	Name    string  `json:"name"`
	Address string  `json:"address,omitempty"`
}

func (LocationAdded) Kind() Kind { return KindLocationAdded }

type MachineAdded struct {
	ID           FlexInt `json:"id,omitempty"`
	Name         string  `json:"name"`
	Location     string  `json:"location,omitempty"`
	LocationName string  `json:"locationName,omitempty"`
}

func (MachineAdded) Kind() Kind { return KindMachineAdded }

// UserPresence is user_logged_in / user_logged_out, including our own
// identity announcement.
type UserPresence struct {
	Op       Kind    `json:"-"`
	UserID   FlexInt `json:"userId"`
	Username string  `json:"username"`
	Role     string  `json:"role,omitempty"`
}

func (e UserPresence) Kind() Kind { return e.Op }

// ID is the numeric user id.
func (e UserPresence) ID() int64 { return int64(e.UserID) }

// Broadcast is a free-form server message.
type Broadcast struct {
	Text    string `json:"message"`
	Content string `json:"content,omitempty"`
}

func (Broadcast) Kind() Kind { return KindMessage }

// Body returns whichever text field was populated.
func (b Broadcast) Body() string {
	if b.Text != "" {
		return b.Text
	}
	return b.Content
}

// Unknown preserves the raw payload of kinds this package does not model.
type Unknown struct {
	Type    Kind
	Payload json.RawMessage
}

func (u Unknown) Kind() Kind { return u.Type }

// Event decodes the payload into the typed event for e.Type. A payload that
// does not fit the typed shape returns a *DecodeError; an absent payload
// yields the zero event.
func (e Envelope) Event() (Event, error) {
	switch e.Type {
	case KindIssueCreated, KindIssueUpdated:
		var ev IssueChanged
		if err := e.unmarshal(&ev); err != nil {
			return nil, err
		}
		ev.Op = e.Type
		return ev, nil
	case KindIssueDeleted:
		var ev IssueDeleted
		if err := e.unmarshal(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case KindStatusChanged:
		var ev StatusChanged
		if err := e.unmarshal(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case KindCommentAdded:
		var ev CommentAdded
		if err := e.unmarshal(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case KindRepairScheduled:
		var ev RepairScheduled
		if err := e.unmarshal(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case KindLocationAdded:
		var ev LocationAdded
		if err := e.unmarshal(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case KindMachineAdded:
		var ev MachineAdded
		if err := e.unmarshal(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case KindUserLoggedIn, KindUserLoggedOut:
		var ev UserPresence
		if err := e.unmarshal(&ev); err != nil {
			return nil, err
		}
		ev.Op = e.Type
		return ev, nil
	case KindMessage:
		var ev Broadcast
		if len(e.Payload) > 0 && e.Payload[0] == '"' {
			if err := json.Unmarshal(e.Payload, &ev.Text); err != nil {
				return nil, &DecodeError{Reason: "message payload", Err: err}
			}
			return ev, nil
		}
		if err := e.unmarshal(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	default:
		return Unknown{Type: e.Type, Payload: e.Payload}, nil
	}
}

func (e Envelope) unmarshal(v any) error {
	if !e.HasPayload() {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return &DecodeError{Reason: string(e.Type) + " payload", Err: err}
	}
	return nil
}
