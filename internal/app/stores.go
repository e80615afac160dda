package app

import (
	"context"
	"errors"

	"maintwatch/internal/config"
	"maintwatch/internal/inbox"
	"maintwatch/internal/settings"
	"maintwatch/internal/storage"
	"maintwatch/pkg/logx"
)

// Stores are the persisted state shared by the daemon and offline CLI
// commands. All three sit on one storage driver.
type Stores struct {
	Backend  storage.Store
	Inbox    *inbox.Store
	Settings *settings.Store
}

// OpenStores opens the configured storage driver and loads the inbox and
// settings from it.
func OpenStores(ctx context.Context, cfg *config.Config, log logx.Logger) (*Stores, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	backend, err := storage.Open(sc, log)
	if err != nil {
		return nil, err
	}

	in, err := inbox.Open(ctx, backend, log, mapInboxOptions(cfg))
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	prefs, err := settings.Open(ctx, backend, log)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	log.Debug("stores opened", logx.String("driver", sc.Driver), logx.Int("notifications", in.Len()))
	return &Stores{Backend: backend, Inbox: in, Settings: prefs}, nil
}

func (s *Stores) Close() error {
	if s == nil || s.Backend == nil {
		return nil
	}
	err := s.Backend.Close()
	if errors.Is(err, storage.ErrDisabled) {
		return nil
	}
	return err
}
