package priority

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) Classifier {
	return Classifier{Now: func() time.Time { return t }}
}

func TestTierOrder(t *testing.T) {
	for i, tier := range Tiers {
		assert.Equal(t, i, tier.Rank(), tier)
		assert.True(t, tier.Valid())
	}
	assert.False(t, Tier("urgent").Valid())

	assert.True(t, Critical.Admits(High))
	assert.True(t, High.Admits(High))
	assert.False(t, Medium.Admits(High))
	assert.True(t, Info.Admits(Info))
}

func TestParseTier(t *testing.T) {
	got, err := ParseTier("  HIGH ")
	require.NoError(t, err)
	assert.Equal(t, High, got)

	_, err = ParseTier("severe")
	assert.ErrorIs(t, err, ErrUnknownTier)

	var tier Tier
	require.NoError(t, tier.UnmarshalText([]byte("Critical")))
	assert.Equal(t, Critical, tier)

	_, err = Tier("bogus").MarshalText()
	assert.ErrorIs(t, err, ErrUnknownTier)
}

func TestMaintenanceRuleOrder(t *testing.T) {
	c := fixedClock(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))

	cases := []struct {
		name string
		p    Payload
		want Tier
	}{
		{"critical system wins over severity", Payload{"equipmentType": "Freezer", "severity": "cosmetic"}, Critical},
		{"high area", Payload{"area": "Drive-Thru"}, High},
		{"severity complete", Payload{"severity": "complete"}, Critical},
		{"severity partial", Payload{"severity": "partial"}, High},
		{"severity intermittent", Payload{"severity": "intermittent"}, Medium},
		{"severity cosmetic", Payload{"severity": "cosmetic"}, Low},
		{"unknown severity falls through to due date", Payload{"severity": "odd", "dueDate": "2025-03-09"}, High},
		{"nothing", Payload{}, Medium},
		{"nil payload", nil, Medium},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, c.Maintenance(tc.p))
		})
	}
}

func TestSeverityCompleteAcrossMaintenanceCategories(t *testing.T) {
	p := Payload{"severity": "complete"}
	for _, cat := range []string{"repair_scheduled", "maintenance_due", "equipment_failure", "REPAIR"} {
		assert.Equal(t, Critical, Classify(cat, p), cat)
	}
}

func TestDueDateBoundaries(t *testing.T) {
	loc := time.FixedZone("site", -5*3600)
	now := time.Date(2025, 6, 15, 23, 30, 0, 0, loc)
	c := fixedClock(now)

	due := func(days int, hour int) Payload {
		d := time.Date(2025, 6, 15+days, hour, 0, 0, 0, loc)
		return Payload{"dueDate": d.Format(time.RFC3339)}
	}

	assert.Equal(t, High, c.Maintenance(due(-3, 12)), "overdue")
	assert.Equal(t, High, c.Maintenance(due(0, 0)), "today at midnight")
	assert.Equal(t, High, c.Maintenance(due(0, 23)), "today late")
	assert.Equal(t, Medium, c.Maintenance(due(1, 0)), "tomorrow, under 24h away")
	assert.Equal(t, Medium, c.Maintenance(due(7, 23)), "day 7")
	assert.Equal(t, Low, c.Maintenance(due(8, 0)), "day 8")
	assert.Equal(t, Low, c.Maintenance(due(14, 12)), "day 14")
	assert.Equal(t, Info, c.Maintenance(due(15, 12)), "day 15")
}

func TestDueDateFormats(t *testing.T) {
	now := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	c := fixedClock(now)

	assert.Equal(t, High, c.Maintenance(Payload{"dueDate": "2025-01-01"}))
	assert.Equal(t, Low, c.Maintenance(Payload{"dueDate": float64(now.AddDate(0, 0, 10).UnixMilli())}))
	assert.Equal(t, Info, c.Maintenance(Payload{"dueDate": now.AddDate(0, 1, 0)}))
	assert.Equal(t, Medium, c.Maintenance(Payload{"scheduledDate": "2025-01-05T10:00:00Z"}), "scheduledDate fallback")
	assert.Equal(t, Medium, c.Maintenance(Payload{"dueDate": "next tuesday"}), "unparseable date")
}

func TestIssueRules(t *testing.T) {
	cases := []struct {
		name string
		p    Payload
		want Tier
	}{
		{"assigned overrides low priority", Payload{"assignedToCurrentUser": true, "priority": "low"}, High},
		{"mention overrides resolved", Payload{"mentionsCurrentUser": true, "status": "resolved"}, High},
		{"urgent", Payload{"priority": "URGENT"}, High},
		{"medium", Payload{"priority": "medium"}, Medium},
		{"low priority beats new status", Payload{"priority": "low", "status": "new"}, Low},
		{"created", Payload{"status": "created"}, High},
		{"in progress", Payload{"status": "in_progress"}, Medium},
		{"in progress spaced", Payload{"status": "In Progress"}, Medium},
		{"completed via newStatus", Payload{"newStatus": "completed"}, Low},
		{"default", Payload{"title": "x"}, Medium},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Issue(tc.p))
		})
	}
}

func TestUserActivityRules(t *testing.T) {
	assert.Equal(t, Medium, UserActivity(Payload{"action": "Role changed to admin"}))
	assert.Equal(t, Medium, UserActivity(Payload{"action": "permission granted"}))
	assert.Equal(t, Medium, UserActivity(Payload{"action": "register"}))
	assert.Equal(t, Low, UserActivity(Payload{"action": "LOGIN"}))
	assert.Equal(t, Low, UserActivity(Payload{"action": "logout"}))
	assert.Equal(t, Info, UserActivity(Payload{"action": "viewed dashboard"}))
	assert.Equal(t, Info, UserActivity(Payload{}))
}

func TestCategoryDispatch(t *testing.T) {
	p := Payload{"status": "resolved", "action": "login", "severity": "cosmetic"}
	assert.Equal(t, Low, Classify("repair_scheduled", p))
	assert.Equal(t, Low, Classify("status_changed", p))
	assert.Equal(t, Low, Classify("issue_deleted", p))
	assert.Equal(t, Low, Classify("user_logged_in", p))
	assert.Equal(t, Low, Classify("role_changed", Payload{"action": "logout"}))
	assert.Equal(t, Medium, Classify("location_added", p))
	assert.Equal(t, Medium, Classify("", nil))
}

func TestClassifyDeterministic(t *testing.T) {
	c := fixedClock(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	inputs := []struct {
		cat string
		p   Payload
	}{
		{"maintenance", Payload{"dueDate": "2025-02-09"}},
		{"issue_created", Payload{"priority": "high"}},
		{"user_register", Payload{"action": "register"}},
		{"unknown", nil},
	}
	for _, in := range inputs {
		first := c.Classify(in.cat, in.p)
		assert.True(t, first.Valid())
		assert.Equal(t, first, c.Classify(in.cat, in.p))
	}
}
