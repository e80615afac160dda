// Package ingest turns decoded server events into prioritized inbox
// notifications: compose, classify, filter by settings, store, alert.
package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"maintwatch/internal/eventbus"
	"maintwatch/internal/inbox"
	"maintwatch/internal/priority"
	"maintwatch/internal/settings"
	"maintwatch/internal/wire"
	"maintwatch/pkg/logx"
)

// Alerter is told about admitted notifications worth an audible cue.
type Alerter interface {
	Alert(n inbox.Notification)
}

// SuppressedInfo is the Data of SignalInboxSuppressed.
type SuppressedInfo struct {
	Category string
	Priority priority.Tier
	Minimum  priority.Tier
}

// Outcome of one ingested envelope.
type Outcome int

const (
	Ignored Outcome = iota
	Appended
	Suppressed
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Appended:
		return "appended"
	case Suppressed:
		return "suppressed"
	case Duplicate:
		return "duplicate"
	default:
		return "ignored"
	}
}

type Options struct {
	Classifier priority.Classifier
	// Self returns the local principal; nil means anonymous.
	Self    func() Self
	Alerter Alerter
	// AlertMin is the least urgent tier that triggers the alerter.
	AlertMin priority.Tier
	NewID    func() string
	Now      func() time.Time
	// Timeout bounds the inbox write done on the dispatch goroutine.
	Timeout time.Duration
}

type Service struct {
	reg      *eventbus.Registry
	inbox    *inbox.Store
	settings *settings.Store
	sig      *eventbus.Signals
	log      logx.Logger
	opt      Options

	mu   sync.Mutex
	subs []*eventbus.Subscription

	amu      sync.RWMutex
	alerter  Alerter
	alertMin priority.Tier
}

func New(reg *eventbus.Registry, in *inbox.Store, st *settings.Store, sig *eventbus.Signals, log logx.Logger, opt Options) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.NewID == nil {
		opt.NewID = uuid.NewString
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.AlertMin == "" {
		opt.AlertMin = priority.High
	}
	if opt.Timeout <= 0 {
		opt.Timeout = 5 * time.Second
	}
	return &Service{
		reg:      reg,
		inbox:    in,
		settings: st,
		sig:      sig,
		log:      log.With(logx.String("comp", "ingest")),
		opt:      opt,
		alerter:  opt.Alerter,
		alertMin: opt.AlertMin,
	}
}

// SetAlerting swaps the alerter and its threshold; a nil alerter disables
// audible alerts.
func (s *Service) SetAlerting(a Alerter, min priority.Tier) {
	if min == "" {
		min = priority.High
	}
	s.amu.Lock()
	s.alerter, s.alertMin = a, min
	s.amu.Unlock()
}

func (s *Service) alerting() (Alerter, priority.Tier) {
	s.amu.RLock()
	defer s.amu.RUnlock()
	return s.alerter, s.alertMin
}

// Start subscribes to every known event kind. Calling it twice is a no-op.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subs) > 0 {
		return
	}
	for _, k := range wire.KnownKinds {
		s.subs = append(s.subs, s.reg.Subscribe(k, s.onEnvelope))
	}
	s.log.Debug("subscribed", logx.Int("kinds", len(s.subs)))
}

func (s *Service) Stop() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

func (s *Service) onEnvelope(env wire.Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opt.Timeout)
	defer cancel()
	if _, _, err := s.Ingest(ctx, env); err != nil {
		s.log.Warn("ingest failed", logx.String("type", string(env.Type)), logx.Err(err))
	}
}

func (s *Service) self() Self {
	if s.opt.Self == nil {
		return Self{}
	}
	return s.opt.Self()
}

// Ingest processes one envelope synchronously and reports what happened.
func (s *Service) Ingest(ctx context.Context, env wire.Envelope) (inbox.Notification, Outcome, error) {
	ev, err := env.Event()
	if err != nil {
		return inbox.Notification{}, Ignored, err
	}

	meta := priority.Payload(env.Fields())
	d, ok := compose(ev, meta, s.self())
	if !ok {
		return inbox.Notification{}, Ignored, nil
	}

	category := string(env.Type)
	tier := s.opt.Classifier.Classify(category, d.meta)
	cur := s.settings.Get()
	if !cur.Admits(tier) {
		s.log.Debug("suppressed", logx.String("category", category), logx.String("priority", tier.String()))
		s.sig.Emit(eventbus.SignalInboxSuppressed, SuppressedInfo{Category: category, Priority: tier, Minimum: cur.MinimumPriority})
		return inbox.Notification{}, Suppressed, nil
	}

	source := "system"
	if env.Sender != nil && env.Sender.Username != "" {
		source = env.Sender.Username
	}
	n := inbox.Notification{
		ID:        s.opt.NewID(),
		Title:     d.title,
		Message:   d.message,
		Type:      typeFor(tier, d),
		Priority:  tier,
		Timestamp: env.Time(s.opt.Now()),
		Category:  category,
		Source:    source,
		Metadata:  map[string]any(d.meta),
	}
	added, err := s.inbox.Append(ctx, n)
	if err != nil {
		return n, Ignored, err
	}
	if !added {
		return n, Duplicate, nil
	}

	s.log.Info("notification",
		logx.String("id", n.ID),
		logx.String("category", category),
		logx.String("priority", tier.String()),
		logx.String("title", n.Title),
	)
	s.sig.Emit(eventbus.SignalInboxAppended, n)
	if a, min := s.alerting(); a != nil && cur.SoundEnabled && tier.Admits(min) {
		a.Alert(n)
	}
	return n, Appended, nil
}
