package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"maintwatch/pkg/logx"
)

// fileStore keeps every document in memory and makes writes durable through
// an append-only journal that is periodically folded into a snapshot.
//
// Files:
//   - <prefix>.snapshot.json (map key -> document)
//   - <prefix>.journal.jsonl (append-only, fsynced per write)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File
	docs         map[string][]byte

	writes       int
	compactEvery int
}

type journalRecord struct {
	Key     string `json:"key"`
	Data    []byte `json:"data,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
	At      int64  `json:"at"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	docs := map[string][]byte{}
	if err := loadSnapshot(snapPath, docs); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("snapshot unreadable; starting from journal", logx.String("path", snapPath), logx.Err(err))
	}
	skipped, err := replayJournal(journalPath, docs)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if skipped > 0 {
		log.Warn("skipped corrupt journal lines", logx.String("path", journalPath), logx.Int("count", skipped))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		snapshotPath: snapPath,
		journal:      jf,
		docs:         docs,
		compactEvery: 200,
	}
	// Fold whatever was replayed so the journal starts empty.
	if err := s.compactLocked(); err != nil {
		log.Debug("initial compact failed", logx.Err(err))
	}
	return s, nil
}

func (s *fileStore) Load(ctx context.Context, key string) ([]byte, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, ErrDisabled
	}
	b, ok := s.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(b), nil
}

func (s *fileStore) Save(ctx context.Context, key string, data []byte) error {
	_ = ctx
	if err := validKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Key: key, Data: data, At: time.Now().UnixMilli()}); err != nil {
		return err
	}
	s.docs[key] = bytes.Clone(data)
	s.maybeCompactLocked()
	return nil
}

func (s *fileStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[key]; !ok {
		if s.journal == nil {
			return ErrDisabled
		}
		return nil
	}
	if err := s.appendLocked(journalRecord{Key: key, Deleted: true, At: time.Now().UnixMilli()}); err != nil {
		return err
	}
	delete(s.docs, key)
	s.maybeCompactLocked()
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	if err := s.compactLocked(); err != nil {
		s.log.Warn("compact on close failed", logx.Err(err))
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileStore) appendLocked(r journalRecord) error {
	if s.journal == nil {
		return ErrDisabled
	}
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if _, err := s.journal.Write(b); err != nil {
		return err
	}
	return s.journal.Sync()
}

func (s *fileStore) maybeCompactLocked() {
	s.writes++
	if s.compactEvery > 0 && s.writes%s.compactEvery == 0 {
		// Best-effort; the journal alone is still authoritative.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("compact failed", logx.Err(err))
		}
	}
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.docs); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out map[string][]byte) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string][]byte
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

// maxJournalLine bounds a single journal record. Longer lines are skipped.
var maxJournalLine = 16 << 20

// replayJournal applies records in order and returns how many lines were
// unreadable (a torn final write, typically, or an oversized record).
func replayJournal(path string, out map[string][]byte) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	skipped := 0
	rd := bufio.NewReaderSize(f, 64*1024)
	for {
		line, tooLong, err := readJournalLine(rd)
		if tooLong {
			skipped++
		} else if line = bytes.TrimSpace(line); len(line) > 0 {
			var r journalRecord
			switch {
			case json.Unmarshal(line, &r) != nil || r.Key == "":
				skipped++
			case r.Deleted:
				delete(out, r.Key)
			default:
				out[r.Key] = r.Data
			}
		}
		if errors.Is(err, io.EOF) {
			return skipped, nil
		}
		if err != nil {
			return skipped, err
		}
	}
}

// readJournalLine returns the next line without its newline. A line longer
// than maxJournalLine is consumed and reported with tooLong set.
func readJournalLine(rd *bufio.Reader) (line []byte, tooLong bool, err error) {
	for {
		chunk, err := rd.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > maxJournalLine {
				tooLong, line = true, nil
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return line, tooLong, err
	}
}
