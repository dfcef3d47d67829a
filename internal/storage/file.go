package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "ticktock/pkg/logx"
)

// fileStore keeps the journal in <prefix>.journal.jsonl (append-only JSON Lines).
// Once it grows past MaxEntries by a margin it is rewritten with the newest MaxEntries.
type fileStore struct {
	log logx.Logger

	mu    sync.Mutex
	path  string
	f     *os.File
	lines int
	max   int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	journal := filepath.Join(dir, base+".journal.jsonl")

	lines, err := countLines(journal)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	f, err := os.OpenFile(journal, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: journal, f: f, lines: lines, max: cfg.MaxEntries}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) Append(ctx context.Context, e Entry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.f).Encode(e); err != nil {
		return err
	}
	s.lines++
	if s.lines > s.max+s.max/10 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) Recent(ctx context.Context, q Query) ([]Entry, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, ErrClosed
	}

	limit := q.limit()
	var keep []Entry
	err := scanJournal(s.path, func(e Entry) {
		if q.Tag != "" && e.Tag != q.Tag {
			return
		}
		keep = append(keep, e)
		if len(keep) > limit {
			keep = keep[1:]
		}
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(keep)-1; i < j; i, j = i+1, j-1 {
		keep[i], keep[j] = keep[j], keep[i]
	}
	return keep, nil
}

func (s *fileStore) compactLocked() error {
	var all []Entry
	if err := scanJournal(s.path, func(e Entry) { all = append(all, e) }); err != nil {
		return err
	}
	if len(all) > s.max {
		all = all[len(all)-s.max:]
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, e := range all {
		if err := enc.Encode(e); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}

	nf, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	_ = s.f.Close()
	s.f = nf
	s.lines = len(all)
	return nil
}

// scanJournal calls fn for every decodable line. Torn or foreign lines are skipped.
func scanJournal(path string, fn func(Entry)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil || e.Tag == "" {
			continue
		}
		fn(e)
	}
	return sc.Err()
}

func countLines(path string) (int, error) {
	n := 0
	err := scanJournal(path, func(Entry) { n++ })
	return n, err
}
