package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "jobthrottle/pkg/logx"
)

// fileStore appends outcomes to <prefix>.outcomes.jsonl.
//
// With MaxRows set, the file is rewritten to its newest MaxRows lines once it
// grows half again past the limit.
type fileStore struct {
	log logx.Logger

	mu      sync.Mutex
	path    string
	f       *os.File
	lines   int
	maxRows int
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
	outPath := filepath.Join(dir, base) + ".outcomes.jsonl"

	lines, err := countLines(outPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	f, err := os.OpenFile(outPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:     log,
		path:    outPath,
		f:       f,
		lines:   lines,
		maxRows: cfg.MaxRows,
	}, nil
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

func (s *fileStore) AppendOutcome(ctx context.Context, o Outcome) error {
	_ = ctx
	o.fill()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("outcome file closed")
	}
	if err := json.NewEncoder(s.f).Encode(o); err != nil {
		return err
	}
	s.lines++

	if s.maxRows > 0 && s.lines > s.maxRows+s.maxRows/2 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("outcome compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) RecentOutcomes(ctx context.Context, n int) ([]Outcome, error) {
	_ = ctx
	if n <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	lines, err := tailLines(s.path, n)
	if err != nil {
		return nil, err
	}
	out := make([]Outcome, 0, len(lines))
	for _, line := range lines {
		var o Outcome
		if err := json.Unmarshal(line, &o); err != nil {
			// A torn final write should not hide the rest of the history.
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

// compactLocked rewrites the file to its newest maxRows lines via an atomic rename.
func (s *fileStore) compactLocked() error {
	keep, err := tailLines(s.path, s.maxRows)
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, line := range keep {
		_, _ = w.Write(line)
		_ = w.WriteByte('\n')
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

	// The old handle points at the replaced inode; reopen for appends.
	nf, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	_ = s.f.Close()
	s.f = nf
	s.lines = len(keep)
	return nil
}

// tailLines returns the last n non-empty lines of path, oldest first.
func tailLines(path string, n int) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	ring := make([][]byte, n)
	total := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		b := sc.Bytes()
		if len(b) == 0 {
			continue
		}
		ring[total%n] = append([]byte(nil), b...)
		total++
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	if total <= n {
		return ring[:total], nil
	}
	start := total % n
	return append(ring[start:], ring[:start]...), nil
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadSlice('\n')
		if len(line) > 0 && line[len(line)-1] == '\n' {
			n++
		}
		if err == io.EOF {
			return n, nil
		}
		if err != nil && !errors.Is(err, bufio.ErrBufferFull) {
			return n, err
		}
	}
}
