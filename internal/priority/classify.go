package priority

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Payload is the loosely typed metadata bag an event carries.
type Payload map[string]any

// String returns the lowercased, trimmed string value of key, or "".
func (p Payload) String(key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(x))
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return ""
	}
}

// Bool reports whether key holds a truthy value.
func (p Payload) Bool(key string) bool {
	switch x := p[key].(type) {
	case bool:
		return x
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		return err == nil && b
	case float64:
		return x != 0
	case int:
		return x != 0
	default:
		return false
	}
}

// Time parses key as a timestamp. Accepted forms: time.Time, RFC3339,
// YYYY-MM-DD (in loc), or unix milliseconds.
func (p Payload) Time(key string, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}
	switch x := p[key].(type) {
	case time.Time:
		return x, !x.IsZero()
	case *time.Time:
		if x == nil {
			return time.Time{}, false
		}
		return *x, !x.IsZero()
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, false
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t, true
		}
		if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
			return t, true
		}
		if t, err := time.ParseInLocation("2006-01-02T15:04:05", s, loc); err == nil {
			return t, true
		}
		return time.Time{}, false
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(x)), true
	case int64:
		return time.UnixMilli(x), true
	case int:
		return time.UnixMilli(int64(x)), true
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return time.Time{}, false
		}
		return time.UnixMilli(n), true
	default:
		return time.Time{}, false
	}
}

// Classifier maps (category, payload) to a Tier. Now is only consulted by
// the due-date rule; nil means time.Now.
type Classifier struct {
	Now func() time.Time
}

var defaultClassifier Classifier

// Classify uses the wall clock for due-date rules.
func Classify(category string, p Payload) Tier {
	return defaultClassifier.Classify(category, p)
}

func (c Classifier) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Classify dispatches on category. It never fails: unrecognized categories
// and empty payloads resolve to Medium.
func (c Classifier) Classify(category string, p Payload) Tier {
	cat := strings.ToLower(strings.TrimSpace(category))
	switch {
	case isMaintenanceCategory(cat):
		return c.Maintenance(p)
	case isIssueCategory(cat):
		return Issue(p)
	case isUserCategory(cat):
		return UserActivity(p)
	default:
		return Medium
	}
}

func isMaintenanceCategory(cat string) bool {
	return cat == "repair_scheduled" ||
		strings.Contains(cat, "maintenance") ||
		strings.Contains(cat, "repair") ||
		strings.Contains(cat, "equipment")
}

func isIssueCategory(cat string) bool {
	if _, ok := issueCategories[cat]; ok {
		return true
	}
	return strings.Contains(cat, "issue")
}

func isUserCategory(cat string) bool {
	if _, ok := userCategories[cat]; ok {
		return true
	}
	return strings.Contains(cat, "user")
}

// Maintenance applies the equipment, area, severity and due-date rules in
// that order; the first match wins.
func (c Classifier) Maintenance(p Payload) Tier {
	if _, ok := criticalSystems[p.String(KeyEquipmentType)]; ok {
		return Critical
	}
	if _, ok := highPriorityAreas[p.String(KeyArea)]; ok {
		return High
	}
	if t, ok := breakdownSeverity[p.String(KeySeverity)]; ok {
		return t
	}

	now := c.now()
	due, ok := p.Time(KeyDueDate, now.Location())
	if !ok {
		due, ok = p.Time(KeyScheduledDate, now.Location())
	}
	if ok {
		return dueTier(calendarDays(now, due))
	}
	return Medium
}

func dueTier(days int) Tier {
	switch {
	case days <= 0:
		return High
	case days <= dueThisWeek:
		return Medium
	case days <= dueNextWeek:
		return Low
	default:
		return Info
	}
}

// calendarDays counts midnight boundaries from now to due in now's location.
func calendarDays(now, due time.Time) int {
	loc := now.Location()
	d := due.In(loc)
	a := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// Issue applies assignment, mention, explicit priority and status rules.
func Issue(p Payload) Tier {
	if p.Bool(KeyAssignedToCurrentUser) || p.Bool(KeyMentionsCurrentUser) {
		return High
	}
	if t, ok := issuePriority[p.String(KeyPriority)]; ok {
		return t
	}
	status := p.String(KeyStatus)
	if status == "" {
		status = p.String(KeyNewStatus)
	}
	if t, ok := issueStatus[status]; ok {
		return t
	}
	return Medium
}

// UserActivity keys off the action field; account changes outrank sessions.
func UserActivity(p Payload) Tier {
	action := p.String(KeyAction)
	switch {
	case strings.Contains(action, "role") || strings.Contains(action, "permission"):
		return Medium
	case strings.Contains(action, "register"):
		return Medium
	case strings.Contains(action, "login") || strings.Contains(action, "logout"):
		return Low
	default:
		return Info
	}
}
