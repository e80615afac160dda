// Package settings holds the process-wide notification preferences.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"maintwatch/internal/priority"
	"maintwatch/internal/storage"
	"maintwatch/pkg/logx"
)

const schemaVersion = 1

// RepoKey is where settings live in the store.
var RepoKey = storage.Key("settings", "notifications")

// Settings are created with Defaults on first run and only ever replaced
// by merging a Patch.
type Settings struct {
	MinimumPriority          priority.Tier `json:"minimumPriority"`
	PriorityFilteringEnabled bool          `json:"priorityFilteringEnabled"`
	SoundEnabled             bool          `json:"soundEnabled"`
}

func Defaults() Settings {
	return Settings{
		MinimumPriority:          priority.Info,
		PriorityFilteringEnabled: true,
		SoundEnabled:             true,
	}
}

// Admits reports whether a notification of tier t passes the filter.
func (s Settings) Admits(t priority.Tier) bool {
	if !s.PriorityFilteringEnabled {
		return true
	}
	return t.Admits(s.MinimumPriority)
}

func (s *Settings) Validate() error {
	if !s.MinimumPriority.Valid() {
		return fmt.Errorf("%w: %q", priority.ErrUnknownTier, string(s.MinimumPriority))
	}
	return nil
}

// Patch is a partial update; nil fields are left alone.
type Patch struct {
	MinimumPriority          *priority.Tier `json:"minimumPriority,omitempty"`
	PriorityFilteringEnabled *bool          `json:"priorityFilteringEnabled,omitempty"`
	SoundEnabled             *bool          `json:"soundEnabled,omitempty"`
}

func (p Patch) Empty() bool {
	return p.MinimumPriority == nil && p.PriorityFilteringEnabled == nil && p.SoundEnabled == nil
}

// Apply merges p over s.
func (p Patch) Apply(s Settings) Settings {
	if p.MinimumPriority != nil && p.MinimumPriority.Valid() {
		s.MinimumPriority = *p.MinimumPriority
	}
	if p.PriorityFilteringEnabled != nil {
		s.PriorityFilteringEnabled = *p.PriorityFilteringEnabled
	}
	if p.SoundEnabled != nil {
		s.SoundEnabled = *p.SoundEnabled
	}
	return s
}

// Store is the persisted singleton. Reads never block on I/O.
type Store struct {
	repo *storage.ObjectRepo[Settings]
	log  logx.Logger

	mu  sync.RWMutex
	cur Settings
}

// legacyKeys maps names used by older clients to the current fields.
var legacyKeys = map[string]string{
	"minimumpriority":          "minimumPriority",
	"minimum_priority":         "minimumPriority",
	"min_priority":             "minimumPriority",
	"priorityfiltering":        "priorityFilteringEnabled",
	"priorityfilteringenabled": "priorityFilteringEnabled",
	"priority_filtering":       "priorityFilteringEnabled",
	"notificationsound":        "soundEnabled",
	"soundenabled":             "soundEnabled",
	"sound":                    "soundEnabled",
}

func migrate(from int, items json.RawMessage) (json.RawMessage, error) {
	if from != 0 {
		return items, nil
	}
	var old map[string]any
	if err := json.Unmarshal(items, &old); err != nil {
		return nil, err
	}
	// Earlier layouts nested the filter under prioritySettings.
	if nested, ok := old["prioritySettings"].(map[string]any); ok {
		for k, v := range nested {
			old[k] = v
		}
	}
	p := patchFromValues(old)
	return json.Marshal(p.Apply(Defaults()))
}

// Open loads persisted settings, falling back to defaults when none exist
// or the record is unreadable.
func Open(ctx context.Context, st storage.Store, log logx.Logger) (*Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Store{
		repo: storage.NewObjectRepo[Settings](st, RepoKey, schemaVersion, migrate),
		log:  log.With(logx.String("comp", "settings")),
	}
	cur, _, err := s.repo.Load(ctx, Defaults())
	var corrupt *storage.CorruptRecordError
	switch {
	case errors.As(err, &corrupt):
		s.log.Warn("settings record unreadable; using defaults", logx.Err(err))
	case err != nil:
		return nil, err
	}
	s.cur = cur
	return s, nil
}

func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Update merges p and persists the result. The in-memory value only
// changes after the save succeeds.
func (s *Store) Update(ctx context.Context, p Patch) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Empty() {
		return s.cur, nil
	}
	next := p.Apply(s.cur)
	if next == s.cur {
		return s.cur, nil
	}
	if err := s.repo.Save(ctx, next); err != nil {
		return s.cur, fmt.Errorf("save settings: %w", err)
	}
	s.log.Info("settings updated",
		logx.String("min_priority", next.MinimumPriority.String()),
		logx.Bool("filtering", next.PriorityFilteringEnabled),
		logx.Bool("sound", next.SoundEnabled),
	)
	s.cur = next
	return next, nil
}

// UpdateValues accepts loosely typed input (CLI, JSON bodies). Unknown keys
// and values that cannot be coerced are ignored.
func (s *Store) UpdateValues(ctx context.Context, values map[string]any) (Settings, error) {
	return s.Update(ctx, patchFromValues(values))
}

func patchFromValues(values map[string]any) Patch {
	var p Patch
	for k, v := range values {
		name, ok := legacyKeys[strings.ToLower(strings.TrimSpace(k))]
		if !ok {
			continue
		}
		switch name {
		case "minimumPriority":
			if t, ok := coerceTier(v); ok {
				p.MinimumPriority = &t
			}
		case "priorityFilteringEnabled":
			if b, ok := coerceBool(v); ok {
				p.PriorityFilteringEnabled = &b
			}
		case "soundEnabled":
			if b, ok := coerceBool(v); ok {
				p.SoundEnabled = &b
			}
		}
	}
	return p
}

func coerceTier(v any) (priority.Tier, bool) {
	switch x := v.(type) {
	case priority.Tier:
		return x, x.Valid()
	case string:
		t, err := priority.ParseTier(x)
		return t, err == nil
	default:
		return "", false
	}
}

func coerceBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			switch strings.ToLower(strings.TrimSpace(x)) {
			case "on", "yes":
				return true, true
			case "off", "no":
				return false, true
			}
			return false, false
		}
		return b, true
	case float64:
		return x != 0, true
	case int:
		return x != 0, true
	case int64:
		return x != 0, true
	default:
		return false, false
	}
}

// ParseAssignments turns "key=value" arguments into a Patch. Unlike
// UpdateValues it rejects unknown keys and values it cannot coerce.
func ParseAssignments(args []string) (Patch, error) {
	var p Patch
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok {
			return Patch{}, fmt.Errorf("expected key=value, got %q", arg)
		}
		name, ok := legacyKeys[strings.ToLower(strings.TrimSpace(k))]
		if !ok {
			return Patch{}, fmt.Errorf("unknown setting %q", k)
		}
		switch name {
		case "minimumPriority":
			t, err := priority.ParseTier(v)
			if err != nil {
				return Patch{}, fmt.Errorf("%s: %w", k, err)
			}
			p.MinimumPriority = &t
		case "priorityFilteringEnabled", "soundEnabled":
			b, ok := coerceBool(v)
			if !ok {
				return Patch{}, fmt.Errorf("%s: not a boolean: %q", k, v)
			}
			if name == "soundEnabled" {
				p.SoundEnabled = &b
			} else {
				p.PriorityFilteringEnabled = &b
			}
		}
	}
	return p, nil
}
