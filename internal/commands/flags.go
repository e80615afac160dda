package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"maintwatch/internal/app"
	"maintwatch/internal/config"
	"maintwatch/pkg/logx"
)

// Flags are the global options shared by every command.
type Flags struct {
	LogLevel   string
	ConfigPath string
}

// DefaultConfigPath is used when neither --config nor MAINTWATCH_CONFIG is set.
func DefaultConfigPath() string {
	return "./maintwatch.yaml"
}

// Logger is the stderr logger used by the offline commands. The daemon
// builds its own from the config file.
func (f *Flags) Logger() logx.Logger {
	level := f.LogLevel
	if level == "" {
		level = "warn"
	}
	return logx.NewConsole(logx.Stderr(), level)
}

// LoadConfig reads the config file. A missing file yields the zero config,
// so inbox and settings commands work against the default file store.
func (f *Flags) LoadConfig() (*config.Config, error) {
	cfg, err := config.NewManager(f.ConfigPath).Load()
	if errors.Is(err, fs.ErrNotExist) {
		return &config.Config{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", f.ConfigPath, err)
	}
	return cfg, nil
}

// withStores opens the persisted stores for the duration of fn.
func (f *Flags) withStores(ctx context.Context, fn func(*app.Stores) error) (err error) {
	cfg, err := f.LoadConfig()
	if err != nil {
		return err
	}
	st, err := app.OpenStores(ctx, cfg, f.Logger())
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close stores: %w", cerr)
		}
	}()
	return fn(st)
}
