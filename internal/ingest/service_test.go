package ingest

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maintwatch/internal/eventbus"
	"maintwatch/internal/inbox"
	"maintwatch/internal/priority"
	"maintwatch/internal/settings"
	"maintwatch/internal/storage"
	"maintwatch/internal/wire"
	"maintwatch/pkg/logx"
)

type fixture struct {
	reg   *eventbus.Registry
	inbox *inbox.Store
	prefs *settings.Store
	sig   *eventbus.Signals
	svc   *Service
	alert *recordingAlerter
}

type recordingAlerter struct {
	mu  sync.Mutex
	got []inbox.Notification
}

func (r *recordingAlerter) Alert(n inbox.Notification) {
	r.mu.Lock()
	r.got = append(r.got, n)
	r.mu.Unlock()
}

func (r *recordingAlerter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

var fixedNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := storage.NewMemory()
	in, err := inbox.Open(ctx, st, logx.Nop(), inbox.Options{MaxItems: 100})
	require.NoError(t, err)
	prefs, err := settings.Open(ctx, st, logx.Nop())
	require.NoError(t, err)

	f := &fixture{
		reg:   eventbus.NewRegistry(logx.Nop()),
		inbox: in,
		prefs: prefs,
		sig:   eventbus.NewSignals(),
		alert: &recordingAlerter{},
	}
	seq := 0
	f.svc = New(f.reg, in, prefs, f.sig, logx.Nop(), Options{
		Classifier: priority.Classifier{Now: func() time.Time { return fixedNow }},
		Self:       func() Self { return Self{UserID: 9, Username: "bob"} },
		Alerter:    f.alert,
		NewID: func() string {
			seq++
			return fmt.Sprintf("n-%d", seq)
		},
		Now: func() time.Time { return fixedNow },
	})
	return f
}

func decode(t *testing.T, frame string) wire.Envelope {
	t.Helper()
	env, err := wire.Decode(wire.FrameText, []byte(frame))
	require.NoError(t, err)
	return env
}

func (f *fixture) setMin(t *testing.T, tier priority.Tier, enabled bool) {
	t.Helper()
	_, err := f.prefs.Update(context.Background(), settings.Patch{
		MinimumPriority:          &tier,
		PriorityFilteringEnabled: &enabled,
	})
	require.NoError(t, err)
}

func TestCommentFromAnotherUser(t *testing.T) {
	f := newFixture(t)
	f.svc.Start()
	defer f.svc.Stop()

	env := decode(t, `{"type":"comment_added","payload":{"userId":7,"username":"alice","issueId":42,"issueTitle":"Leaky pipe","content":"fixed now"}}`)
	f.reg.Publish(env)

	items := f.inbox.List(inbox.Filter{})
	require.Len(t, items, 1)
	n := items[0]
	assert.Equal(t, priority.Medium, n.Priority)
	assert.Equal(t, "comment_added", n.Category)
	assert.Contains(t, n.Message, "alice")
	assert.Contains(t, n.Message, "Leaky pipe")
	assert.Equal(t, inbox.TypeInfo, n.Type)
	assert.False(t, n.Read)
	assert.Equal(t, fixedNow, n.Timestamp, "envelope without timestamp uses arrival time")
	assert.Equal(t, 0, f.alert.count(), "medium does not ring")
}

func TestMentionRaisesComment(t *testing.T) {
	f := newFixture(t)
	n, out, err := f.svc.Ingest(context.Background(), decode(t,
		`{"type":"comment_added","payload":{"userId":7,"username":"alice","issueTitle":"Leaky pipe","content":"@Bob can you check?"}}`))
	require.NoError(t, err)
	assert.Equal(t, Appended, out)
	assert.Equal(t, priority.High, n.Priority)
	assert.Equal(t, inbox.TypeWarning, n.Type)
	assert.Equal(t, true, n.Metadata[priority.KeyMentionsCurrentUser])
	assert.Equal(t, 1, f.alert.count())
}

func TestAssignmentRaisesIssue(t *testing.T) {
	f := newFixture(t)
	n, _, err := f.svc.Ingest(context.Background(), decode(t,
		`{"type":"issue_updated","payload":{"id":5,"title":"Door jam","status":"in_progress","assignedToId":9}}`))
	require.NoError(t, err)
	assert.Equal(t, priority.High, n.Priority)
	assert.Equal(t, "Issue updated", n.Title)
}

func TestCriticalSystemIsError(t *testing.T) {
	f := newFixture(t)
	n, _, err := f.svc.Ingest(context.Background(), decode(t,
		`{"type":"repair_scheduled","timestamp":"2026-03-01T08:00:00Z","sender":{"id":3,"username":"carol"},"payload":{"issueId":1,"title":"Walk-in cooler","equipmentType":"Refrigeration"}}`))
	require.NoError(t, err)
	assert.Equal(t, priority.Critical, n.Priority)
	assert.Equal(t, inbox.TypeError, n.Type)
	assert.Equal(t, "carol", n.Source)
	assert.Equal(t, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), n.Timestamp.UTC())
	assert.Equal(t, `Repair for "Walk-in cooler" scheduled`, n.Message)
	assert.Equal(t, 1, f.alert.count())
}

func TestIssueCreatedByReporter(t *testing.T) {
	f := newFixture(t)
	n, _, err := f.svc.Ingest(context.Background(), decode(t,
		`{"type":"issue_created","payload":{"issueId":1,"title":"Gas smell","priority":"urgent","reportedBy":"carol","location":"Kitchen"}}`))
	require.NoError(t, err)
	assert.Equal(t, priority.High, n.Priority)
	assert.Equal(t, "New issue", n.Title)
	assert.Equal(t, `carol reported "Gas smell" at Kitchen`, n.Message)
}

func TestResolvedStatusIsSuccess(t *testing.T) {
	f := newFixture(t)
	n, _, err := f.svc.Ingest(context.Background(), decode(t,
		`{"type":"status_changed","payload":{"issueId":42,"oldStatus":"open","newStatus":"resolved","changedByName":"dave"}}`))
	require.NoError(t, err)
	assert.Equal(t, priority.Low, n.Priority)
	assert.Equal(t, inbox.TypeSuccess, n.Type)
	assert.Equal(t, "#42 changed from open to resolved by dave", n.Message)
	assert.Equal(t, "system", n.Source)
}

func TestRepairForLocalTechnician(t *testing.T) {
	f := newFixture(t)
	n, _, err := f.svc.Ingest(context.Background(), decode(t,
		`{"type":"repair_scheduled","payload":{"issueId":4,"title":"Chiller","scheduledDate":"2026-03-05","scheduledTime":"09:00","technicianId":9}}`))
	require.NoError(t, err)
	assert.Equal(t, priority.Medium, n.Priority, "due within the week")
	assert.Equal(t, true, n.Metadata[priority.KeyAssignedToCurrentUser])
	assert.Equal(t, "Maintenance scheduled", n.Title)
	assert.Contains(t, n.Message, "2026-03-05 09:00")
}

func TestPresence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, out, err := f.svc.Ingest(ctx, decode(t, `{"type":"user_logged_in","payload":{"userId":9,"username":"bob"}}`))
	require.NoError(t, err)
	assert.Equal(t, Ignored, out, "own announcement is not a notification")

	n, out, err := f.svc.Ingest(ctx, decode(t, `{"type":"user_logged_out","payload":{"userId":7,"username":"alice"}}`))
	require.NoError(t, err)
	assert.Equal(t, Appended, out)
	assert.Equal(t, inbox.TypeUserActivity, n.Type)
	assert.Equal(t, "logout", n.Metadata[priority.KeyAction])
	assert.Equal(t, "alice signed out", n.Message)
}

func TestMinimumPriorityFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setMin(t, priority.High, true)

	sigs, unsub := f.sig.Subscribe(16)
	defer unsub()

	frames := []string{
		`{"type":"repair_scheduled","payload":{"title":"a","equipmentType":"freezer"}}`,
		`{"type":"issue_created","payload":{"title":"b","priority":"high"}}`,
		`{"type":"issue_created","payload":{"title":"c","priority":"medium"}}`,
		`{"type":"issue_created","payload":{"title":"d","priority":"low"}}`,
		`{"type":"location_added","payload":{"name":"Annex"}}`,
	}
	for _, fr := range frames {
		_, _, err := f.svc.Ingest(ctx, decode(t, fr))
		require.NoError(t, err)
	}
	for _, n := range f.inbox.List(inbox.Filter{}) {
		assert.Contains(t, []priority.Tier{priority.Critical, priority.High}, n.Priority)
	}
	assert.Equal(t, 2, f.inbox.Len())

	suppressed := 0
	for len(sigs) > 0 {
		if s := <-sigs; s.Type == eventbus.SignalInboxSuppressed {
			suppressed++
		}
	}
	assert.Equal(t, 3, suppressed)

	f.setMin(t, priority.Critical, false)
	for _, fr := range frames {
		_, _, err := f.svc.Ingest(ctx, decode(t, fr))
		require.NoError(t, err)
	}
	assert.Equal(t, 7, f.inbox.Len(), "filtering disabled admits everything")
}

func TestSoundDisabledSilencesAlerts(t *testing.T) {
	f := newFixture(t)
	off := false
	_, err := f.prefs.Update(context.Background(), settings.Patch{SoundEnabled: &off})
	require.NoError(t, err)

	_, out, err := f.svc.Ingest(context.Background(), decode(t,
		`{"type":"repair_scheduled","payload":{"title":"Fire alarm","equipmentType":"fire safety"}}`))
	require.NoError(t, err)
	assert.Equal(t, Appended, out)
	assert.Equal(t, 0, f.alert.count())
}

func TestUndecodablePayloadIsReported(t *testing.T) {
	f := newFixture(t)
	_, out, err := f.svc.Ingest(context.Background(), decode(t, `{"type":"comment_added","payload":[1,2]}`))
	var de *wire.DecodeError
	assert.ErrorAs(t, err, &de)
	assert.Equal(t, Ignored, out)
	assert.Equal(t, 0, f.inbox.Len())
}

func TestStopUnsubscribes(t *testing.T) {
	f := newFixture(t)
	f.svc.Start()
	f.svc.Start()
	assert.Equal(t, 1, f.reg.Len(wire.KindCommentAdded))
	f.svc.Stop()
	assert.Equal(t, 0, f.reg.Len(wire.KindCommentAdded))

	f.reg.Publish(decode(t, `{"type":"location_added","payload":{"name":"Annex"}}`))
	assert.Equal(t, 0, f.inbox.Len())
}

func TestBellAlerterRateLimit(t *testing.T) {
	var buf bytes.Buffer
	b := NewBellAlerter(&buf, 0.001, 2, logx.Nop())
	for i := 0; i < 5; i++ {
		b.Alert(inbox.Notification{ID: fmt.Sprint(i), Priority: priority.Critical})
	}
	rung, limited := b.Stats()
	assert.Equal(t, uint64(2), rung)
	assert.Equal(t, uint64(3), limited)
	assert.Equal(t, "\a\a", buf.String())
}

func TestSetAlertingThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	high := `{"type":"issue_created","payload":{"title":"Door","priority":"high"}}`

	f.svc.SetAlerting(f.alert, priority.Critical)
	_, _, err := f.svc.Ingest(ctx, decode(t, high))
	require.NoError(t, err)
	assert.Equal(t, 0, f.alert.count(), "high is below a critical threshold")

	f.svc.SetAlerting(nil, "")
	_, _, err = f.svc.Ingest(ctx, decode(t, `{"type":"repair_scheduled","payload":{"title":"Cooler","equipmentType":"freezer"}}`))
	require.NoError(t, err)
	assert.Equal(t, 0, f.alert.count())
}
