package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const DefaultFilePath = "./data/maintwatch.log"

type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

// FileConfig enables a JSON-lines sink. An empty Path means DefaultFilePath.
type FileConfig struct {
	Enabled bool
	Path    string
}

// Service owns the sinks. Loggers derived from it pick up Apply changes on
// their next event.
type Service struct {
	mu       sync.Mutex
	file     *os.File
	filePath string

	root atomic.Pointer[zerolog.Logger]
}

// New applies cfg and returns the service with a root logger bound to it.
func New(cfg Config) (*Service, Logger) {
	s := &Service{}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// Apply rebuilds the root logger. The log file is kept open when its path
// does not change. With no sink configured, console output is used.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, consoleWriter(Stderr()))
	}

	path := strings.TrimSpace(cfg.File.Path)
	if path == "" {
		path = DefaultFilePath
	}
	if !cfg.File.Enabled || path != s.filePath {
		s.closeFileLocked()
	}
	if cfg.File.Enabled {
		if s.file == nil {
			if err := s.openFileLocked(path); err != nil {
				fmt.Fprintf(Stderr(), "logx: %v\n", err)
			}
		}
		if s.file != nil {
			sinks = append(sinks, zerolog.SyncWriter(s.file))
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, consoleWriter(Stderr()))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(ParseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

func (s *Service) openFileLocked(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file %q: %w", path, err)
	}
	s.file, s.filePath = f, path
	return nil
}

func (s *Service) closeFileLocked() {
	if s.file != nil {
		_ = s.file.Close()
	}
	s.file, s.filePath = nil, ""
}

// Close releases the log file; later events go to whatever sinks remain.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file, s.filePath = nil, ""
	return err
}
