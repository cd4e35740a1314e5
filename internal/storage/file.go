package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "songbot/pkg/logx"
)

// fileStore keeps state in plain files derived from a path prefix:
//   - <prefix>.subscribers.json (JSON array, rewritten whole)
//   - <prefix>.markers.json     (JSON object key -> RFC3339 time)
//   - <prefix>.audit.jsonl      (append-only JSON Lines)
//
// Rewrites go through a temp file and rename so a crash never leaves a
// half-written set behind.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	subscribersPath string
	markersPath     string
	auditFile       *os.File
	markers         map[string]time.Time
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
		return nil, unavailable("mkdir", err)
	}

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, unavailable("open audit", err)
	}

	s := &fileStore{
		log:             log,
		subscribersPath: prefix + ".subscribers.json",
		markersPath:     prefix + ".markers.json",
		auditFile:       af,
		markers:         map[string]time.Time{},
	}
	if err := s.loadMarkers(); err != nil {
		_ = af.Close()
		return nil, err
	}
	return s, nil
}

func (s *fileStore) LoadSubscribers(ctx context.Context) ([]int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.subscribersPath)
	if errors.Is(err, fs.ErrNotExist) {
		return []int64{}, nil
	}
	if err != nil {
		return nil, unavailable("read subscribers", err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return []int64{}, nil
	}
	var ids []int64
	if err := json.Unmarshal(b, &ids); err != nil {
		return nil, unavailable("decode subscribers", err)
	}
	return ids, nil
}

func (s *fileStore) SaveSubscribers(ctx context.Context, ids []int64) error {
	_ = ctx
	out := append([]int64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	if out == nil {
		out = []int64{}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return unavailable("encode subscribers", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return unavailable("write subscribers", writeFileAtomic(s.subscribersPath, b))
}

func (s *fileStore) GetMarker(ctx context.Context, key string) (time.Time, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.markers[key]
	return at, ok, nil
}

func (s *fileStore) PutMarker(ctx context.Context, key string, at time.Time) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]time.Time, len(s.markers)+1)
	for k, v := range s.markers {
		next[k] = v
	}
	next[key] = at
	b, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return unavailable("encode markers", err)
	}
	if err := writeFileAtomic(s.markersPath, b); err != nil {
		return unavailable("write markers", err)
	}
	s.markers = next
	return nil
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return unavailable("audit", errors.New("audit file closed"))
	}
	return unavailable("append audit", json.NewEncoder(s.auditFile).Encode(e))
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}

func (s *fileStore) loadMarkers() error {
	b, err := os.ReadFile(s.markersPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return unavailable("read markers", err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, &s.markers); err != nil {
		// markers only gate catch-up runs; losing them is not fatal
		s.log.Warn("markers file unreadable; starting fresh", logx.String("path", s.markersPath), logx.Err(err))
		s.markers = map[string]time.Time{}
	}
	return nil
}

// writeFileAtomic writes b to a temp file in the target directory, syncs it
// and renames it over path.
func writeFileAtomic(path string, b []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	cleanup := func() { _ = os.Remove(tmp) }

	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmp, 0o600); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
