package ingest

import (
	"fmt"
	"strings"

	"maintwatch/internal/inbox"
	"maintwatch/internal/priority"
	"maintwatch/internal/wire"
)

// Self is the locally signed-in principal.
type Self struct {
	UserID   int64
	Username string
}

// draft is a notification before classification and admission.
type draft struct {
	title    string
	message  string
	user     bool
	resolved bool
	meta     priority.Payload
}

func quote(s string) string {
	if strings.TrimSpace(s) == "" {
		return `"untitled"`
	}
	return `"` + s + `"`
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "someone"
	}
	return s
}

func isResolved(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "resolved", "completed", "fixed":
		return true
	}
	return false
}

// mentions reports whether text contains @username.
func mentions(text, username string) bool {
	if username == "" || text == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), "@"+strings.ToLower(username))
}

// compose renders a typed event. ok is false for events that never become
// notifications (our own presence, unmodelled kinds).
func compose(ev wire.Event, meta priority.Payload, self Self) (draft, bool) {
	d := draft{meta: meta}
	mine := func(id wire.FlexInt) bool { return self.UserID != 0 && int64(id) == self.UserID }

	switch e := ev.(type) {
	case wire.IssueChanged:
		if e.Op == wire.KindIssueCreated {
			d.title = "New issue"
			if r := e.Reporter(); r != "" {
				d.message = fmt.Sprintf("%s reported %s", r, quote(e.Title))
			} else {
				d.message = fmt.Sprintf("New issue reported: %s", quote(e.Title))
			}
		} else {
			d.title = "Issue updated"
			if e.Status != "" {
				d.message = fmt.Sprintf("%s is now %s", quote(e.Title), e.Status)
			} else {
				d.message = fmt.Sprintf("%s was updated", quote(e.Title))
			}
		}
		if e.Location != "" {
			d.message += " at " + e.Location
		}
		d.resolved = isResolved(e.Status)
		if mine(e.AssigneeID) || mine(e.FixedByID) {
			meta[priority.KeyAssignedToCurrentUser] = true
		}
		if mentions(e.Description, self.Username) {
			meta[priority.KeyMentionsCurrentUser] = true
		}

	case wire.IssueDeleted:
		d.title = "Issue deleted"
		if e.Title != "" {
			d.message = fmt.Sprintf("%s was deleted", quote(e.Title))
		} else {
			d.message = fmt.Sprintf("Issue #%d was deleted", int64(e.IssueID))
		}

	case wire.StatusChanged:
		d.title = "Status changed"
		if e.OldStatus != "" {
			d.message = fmt.Sprintf("%s changed from %s to %s", e.DisplayTitle(), e.OldStatus, e.NewStatus)
		} else {
			d.message = fmt.Sprintf("%s is now %s", e.DisplayTitle(), e.NewStatus)
		}
		if e.ChangedByName != "" {
			d.message += " by " + e.ChangedByName
		}
		d.resolved = isResolved(e.NewStatus)
		if mentions(e.Notes, self.Username) {
			meta[priority.KeyMentionsCurrentUser] = true
		}

	case wire.CommentAdded:
		d.title = "New comment"
		d.message = fmt.Sprintf("%s commented on %s", orUnknown(e.Username), quote(e.IssueTitle))
		if c := strings.TrimSpace(e.Content); c != "" {
			d.message += ": " + c
		}
		if mentions(e.Content, self.Username) {
			meta[priority.KeyMentionsCurrentUser] = true
		}

	case wire.RepairScheduled:
		d.title = "Maintenance scheduled"
		d.message = fmt.Sprintf("Repair for %s", quote(e.Title))
		if w := e.When(); w != "" {
			d.message += " scheduled for " + w
		} else {
			d.message += " scheduled"
		}
		if e.ScheduledBy != "" {
			d.message += " by " + e.ScheduledBy
		}
		if mine(e.TechnicianID) {
			meta[priority.KeyAssignedToCurrentUser] = true
		}

	case wire.LocationAdded:
		d.title = "New location"
		d.message = fmt.Sprintf("Location %s was added", quote(e.Name))

	case wire.MachineAdded:
		d.title = "New machine"
		d.message = fmt.Sprintf("Machine %s was added", quote(e.Name))
		if loc := e.LocationName; loc != "" {
			d.message += " at " + loc
		} else if e.Location != "" {
			d.message += " at " + e.Location
		}

	case wire.UserPresence:
		if mine(e.UserID) {
			return d, false
		}
		d.user = true
		if e.Op == wire.KindUserLoggedIn {
			d.title = "User signed in"
			d.message = orUnknown(e.Username) + " signed in"
			meta[priority.KeyAction] = "login"
		} else {
			d.title = "User signed out"
			d.message = orUnknown(e.Username) + " signed out"
			meta[priority.KeyAction] = "logout"
		}

	default:
		return d, false
	}
	return d, true
}

// typeFor picks the presentation class.
func typeFor(tier priority.Tier, d draft) inbox.Type {
	switch {
	case tier == priority.Critical:
		return inbox.TypeError
	case tier == priority.High:
		return inbox.TypeWarning
	case d.user:
		return inbox.TypeUserActivity
	case d.resolved:
		return inbox.TypeSuccess
	default:
		return inbox.TypeInfo
	}
}
