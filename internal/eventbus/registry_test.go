package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maintwatch/internal/wire"
	"maintwatch/pkg/logx"
)

func env(kind wire.Kind) wire.Envelope { return wire.Envelope{Type: kind} }

type recorder struct {
	mu  sync.Mutex
	got []wire.Kind
}

func (r *recorder) OnEnvelope(e wire.Envelope) {
	r.mu.Lock()
	r.got = append(r.got, e.Type)
	r.mu.Unlock()
}

func TestPublishExactAndWildcard(t *testing.T) {
	r := NewRegistry(logx.Nop())
	var calls []string
	r.Subscribe(wire.KindIssueCreated, func(wire.Envelope) { calls = append(calls, "exact") })
	r.Subscribe(Wildcard, func(e wire.Envelope) { calls = append(calls, "wild:"+string(e.Type)) })
	r.Subscribe(wire.KindCommentAdded, func(wire.Envelope) { calls = append(calls, "other") })

	n := r.Publish(env(wire.KindIssueCreated))
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"exact", "wild:issue_created"}, calls)
}

func TestWildcardReceivesMessageOnce(t *testing.T) {
	r := NewRegistry(logx.Nop())
	count := 0
	r.Subscribe(Wildcard, func(wire.Envelope) { count++ })

	assert.Equal(t, 1, r.Publish(env(wire.KindMessage)))
	assert.Equal(t, 1, count)
}

func TestPanickingSubscriberIsIsolated(t *testing.T) {
	r := NewRegistry(logx.Nop())
	var faults []PanicInfo
	r.OnPanic(func(p PanicInfo) { faults = append(faults, p) })

	var order []int
	r.Subscribe(wire.KindStatusChanged, func(wire.Envelope) { order = append(order, 1) })
	r.Subscribe(wire.KindStatusChanged, func(wire.Envelope) { panic("boom") })
	r.Subscribe(wire.KindStatusChanged, func(wire.Envelope) { order = append(order, 3) })

	require.NotPanics(t, func() { r.Publish(env(wire.KindStatusChanged)) })
	assert.Equal(t, []int{1, 3}, order)
	require.Len(t, faults, 1)
	assert.Equal(t, "boom", faults[0].Recovered)
	assert.Contains(t, faults[0].Error(), "status_changed")
}

func TestUnsubscribeDuringDispatch(t *testing.T) {
	r := NewRegistry(logx.Nop())
	var got []string
	var subB *Subscription

	r.Subscribe(wire.KindCommentAdded, func(wire.Envelope) {
		got = append(got, "a")
		subB.Unsubscribe()
	})
	subB = r.Subscribe(wire.KindCommentAdded, func(wire.Envelope) { got = append(got, "b") })
	r.Subscribe(wire.KindCommentAdded, func(wire.Envelope) { got = append(got, "c") })

	require.NotPanics(t, func() { r.Publish(env(wire.KindCommentAdded)) })
	assert.Equal(t, []string{"a", "b", "c"}, got, "snapshot taken at publish time")

	got = nil
	r.Publish(env(wire.KindCommentAdded))
	assert.Equal(t, []string{"a", "c"}, got)
}

func TestSubscribeDuringDispatchSeesNextEvent(t *testing.T) {
	r := NewRegistry(logx.Nop())
	late := 0
	added := false
	r.Subscribe(wire.KindIssueUpdated, func(wire.Envelope) {
		if !added {
			added = true
			r.Subscribe(wire.KindIssueUpdated, func(wire.Envelope) { late++ })
		}
	})

	r.Publish(env(wire.KindIssueUpdated))
	assert.Equal(t, 0, late)
	r.Publish(env(wire.KindIssueUpdated))
	assert.Equal(t, 1, late)
}

func TestUnsubscribeIdempotentAndPrunes(t *testing.T) {
	r := NewRegistry(logx.Nop())
	sub := r.Subscribe(wire.KindMachineAdded, func(wire.Envelope) {})
	assert.Equal(t, 1, r.Len(wire.KindMachineAdded))

	sub.Unsubscribe()
	require.NotPanics(t, sub.Unsubscribe)
	require.NoError(t, sub.Close())
	assert.Equal(t, 0, r.Len(wire.KindMachineAdded))
	assert.Empty(t, r.Topics())

	var nilSub *Subscription
	assert.NotPanics(t, nilSub.Unsubscribe)
}

func TestSubscribeOnce(t *testing.T) {
	r := NewRegistry(logx.Nop())
	count := 0
	r.SubscribeOnce(wire.KindRepairScheduled, func(wire.Envelope) { count++ })

	r.Publish(env(wire.KindRepairScheduled))
	r.Publish(env(wire.KindRepairScheduled))
	assert.Equal(t, 1, count)
	assert.Equal(t, 0, r.Len(wire.KindRepairScheduled))
}

func TestListeners(t *testing.T) {
	r := NewRegistry(logx.Nop())
	a, b := &recorder{}, &recorder{}
	r.AddListener(wire.KindLocationAdded, a)
	r.AddListener(wire.KindLocationAdded, b)

	r.Publish(env(wire.KindLocationAdded))
	r.RemoveListener(wire.KindLocationAdded, a)
	r.Publish(env(wire.KindLocationAdded))

	assert.Len(t, a.got, 1)
	assert.Len(t, b.got, 2)
	assert.Equal(t, []wire.Kind{wire.KindLocationAdded}, r.Topics())
}

func TestListenerRegisteredOncePerTopic(t *testing.T) {
	r := NewRegistry(logx.Nop())
	rec := &recorder{}
	r.AddListener(wire.KindIssueCreated, rec)
	r.AddListener(wire.KindIssueCreated, rec)
	r.AddListener(Wildcard, rec)

	assert.Equal(t, 1, r.Len(wire.KindIssueCreated))
	assert.Equal(t, 2, r.Publish(env(wire.KindIssueCreated)))
	assert.Len(t, rec.got, 2, "once for the topic, once for the wildcard")

	r.RemoveListener(wire.KindIssueCreated, rec)
	assert.Equal(t, 0, r.Len(wire.KindIssueCreated))
}

type mapListener map[string]int

func (m mapListener) OnEnvelope(wire.Envelope) { m["seen"]++ }

func TestUncomparableListenerIsRejected(t *testing.T) {
	r := NewRegistry(logx.Nop())
	ml := mapListener{}
	require.NotPanics(t, func() {
		r.AddListener(wire.KindCommentAdded, ml)
		r.RemoveListener(wire.KindCommentAdded, ml)
	})
	assert.Equal(t, 0, r.Len(wire.KindCommentAdded))

	rec := &recorder{}
	r.AddListener(wire.KindCommentAdded, rec)
	require.NotPanics(t, func() { r.RemoveListener(wire.KindCommentAdded, ml) })
	assert.Equal(t, 1, r.Len(wire.KindCommentAdded))
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	r := NewRegistry(logx.Nop())
	rec := &recorder{}
	r.AddListener(wire.KindIssueCreated, rec)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r.Publish(env(wire.KindIssueCreated))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s := r.Subscribe(wire.KindIssueCreated, func(wire.Envelope) {})
				s.Unsubscribe()
			}
		}()
	}
	wg.Wait()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Len(t, rec.got, 8*50)
	assert.Equal(t, 1, r.Len(wire.KindIssueCreated))
}

func TestSignalsFanoutAndDrop(t *testing.T) {
	s := NewSignals()
	ch, unsub := s.Subscribe(1)

	s.Emit(SignalOpened, nil)
	s.Emit(SignalClosed, ClosedInfo{Code: 1006})

	select {
	case sig := <-ch:
		assert.Equal(t, SignalOpened, sig.Type)
		assert.False(t, sig.Time.IsZero())
	case <-time.After(time.Second):
		t.Fatal("expected a signal")
	}
	assert.Equal(t, uint64(1), s.Dropped())

	unsub()
	unsub()
	require.NotPanics(t, func() { s.Emit(SignalConnecting, nil) })

	var nilSignals *Signals
	assert.NotPanics(t, func() { nilSignals.Emit(SignalConnecting, nil) })
}
