// Package eventbus routes decoded envelopes to in-process subscribers and
// carries the client's own lifecycle signals.
//
// Registry delivery is synchronous on the publisher's goroutine. Each
// Publish iterates a snapshot of the subscribers taken when it starts, so
// callbacks may subscribe or unsubscribe freely: late subscribers see the
// next event, and removals never cause another subscriber to be skipped.
package eventbus

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"

	"maintwatch/internal/wire"
	"maintwatch/pkg/logx"
)

// Wildcard subscribers receive every envelope regardless of its type.
const Wildcard = wire.KindMessage

type Handler func(env wire.Envelope)

// Listener is the identity-keyed alternative to Handler. A listener is
// registered at most once per topic. Implementations must be comparable
// (typically a pointer); others are rejected by AddListener.
type Listener interface {
	OnEnvelope(env wire.Envelope)
}

// PanicInfo describes a recovered subscriber panic.
type PanicInfo struct {
	Topic     wire.Kind
	Type      wire.Kind
	Recovered any
}

func (p PanicInfo) Error() string {
	return fmt.Sprintf("subscriber on %q panicked handling %q: %v", p.Topic, p.Type, p.Recovered)
}

type entry struct {
	id       uint64
	topic    wire.Kind
	fn       Handler
	listener Listener
	once     bool
	fired    atomic.Bool
}

type Registry struct {
	log logx.Logger

	mu      sync.RWMutex
	topics  map[wire.Kind][]*entry
	seq     atomic.Uint64
	onPanic []func(PanicInfo)
}

func NewRegistry(log logx.Logger) *Registry {
	return &Registry{log: log, topics: map[wire.Kind][]*entry{}}
}

// Subscription is the token returned by Subscribe.
type Subscription struct {
	r    *Registry
	e    *entry
	once sync.Once
}

// Unsubscribe is idempotent and safe to call from inside a callback.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.r == nil {
		return
	}
	s.once.Do(func() { s.r.remove(s.e) })
}

func (s *Subscription) Close() error {
	s.Unsubscribe()
	return nil
}

func (s *Subscription) Topic() wire.Kind {
	if s == nil || s.e == nil {
		return ""
	}
	return s.e.topic
}

func (r *Registry) Subscribe(topic wire.Kind, fn Handler) *Subscription {
	return r.add(&entry{topic: topic, fn: fn})
}

// SubscribeOnce delivers at most one envelope and then removes itself.
func (r *Registry) SubscribeOnce(topic wire.Kind, fn Handler) *Subscription {
	return r.add(&entry{topic: topic, fn: fn, once: true})
}

// AddListener registers l under topic. Adding a listener that is already
// registered for topic is a no-op.
func (r *Registry) AddListener(topic wire.Kind, l Listener) {
	if !comparableListener(l) {
		if l != nil {
			r.log.Warn("listener ignored: type is not comparable", logx.String("topic", string(topic)), logx.String("type", fmt.Sprintf("%T", l)))
		}
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.topics[topic] {
		if e.listener == l {
			return
		}
	}
	r.topics[topic] = append(r.topics[topic], &entry{id: r.seq.Add(1), topic: topic, listener: l})
}

// RemoveListener drops the registration of l under topic.
func (r *Registry) RemoveListener(topic wire.Kind, l Listener) {
	if !comparableListener(l) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.topics[topic]
	kept := list[:0:0]
	for _, e := range list {
		if e.listener != nil && e.listener == l {
			continue
		}
		kept = append(kept, e)
	}
	r.store(topic, kept)
}

func comparableListener(l Listener) bool {
	return l != nil && reflect.TypeOf(l).Comparable()
}

// OnPanic registers a hook for recovered subscriber panics.
func (r *Registry) OnPanic(fn func(PanicInfo)) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.onPanic = append(r.onPanic, fn)
	r.mu.Unlock()
}

func (r *Registry) add(e *entry) *Subscription {
	if e.fn == nil && e.listener == nil {
		return &Subscription{}
	}
	e.id = r.seq.Add(1)
	r.mu.Lock()
	r.topics[e.topic] = append(r.topics[e.topic], e)
	r.mu.Unlock()
	return &Subscription{r: r, e: e}
}

func (r *Registry) remove(target *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.topics[target.topic]
	for i, e := range list {
		if e == target {
			// Copy so snapshots held by in-flight publishes stay intact.
			next := make([]*entry, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			r.store(target.topic, next)
			return
		}
	}
}

// store must be called with mu held. Empty topics are pruned.
func (r *Registry) store(topic wire.Kind, list []*entry) {
	if len(list) == 0 {
		delete(r.topics, topic)
		return
	}
	r.topics[topic] = list
}

// Publish delivers env to subscribers of env.Type and then to wildcard
// subscribers. A wildcard subscriber receives a "message" envelope once.
// It returns the number of callbacks invoked.
func (r *Registry) Publish(env wire.Envelope) int {
	r.mu.RLock()
	exact := r.topics[env.Type]
	var wild []*entry
	if env.Type != Wildcard {
		wild = r.topics[Wildcard]
	}
	snapshot := make([]*entry, 0, len(exact)+len(wild))
	snapshot = append(snapshot, exact...)
	snapshot = append(snapshot, wild...)
	hooks := r.onPanic
	r.mu.RUnlock()

	delivered := 0
	for _, e := range snapshot {
		if e.once {
			if !e.fired.CompareAndSwap(false, true) {
				continue
			}
			r.remove(e)
		}
		if r.invoke(e, env, hooks) {
			delivered++
		}
	}
	return delivered
}

func (r *Registry) invoke(e *entry, env wire.Envelope, hooks []func(PanicInfo)) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
			info := PanicInfo{Topic: e.topic, Type: env.Type, Recovered: rec}
			r.log.Error("subscriber panicked",
				logx.String("topic", string(e.topic)),
				logx.String("type", string(env.Type)),
				logx.Any("panic", rec),
			)
			for _, h := range hooks {
				func() {
					defer func() { _ = recover() }()
					h(info)
				}()
			}
		}
	}()
	if e.listener != nil {
		e.listener.OnEnvelope(env)
	} else {
		e.fn(env)
	}
	return true
}

// Len returns the number of registrations under topic.
func (r *Registry) Len(topic wire.Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[topic])
}

// Topics lists topics with at least one registration, sorted.
func (r *Registry) Topics() []wire.Kind {
	r.mu.RLock()
	out := make([]wire.Kind, 0, len(r.topics))
	for k := range r.topics {
		out = append(out, k)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
