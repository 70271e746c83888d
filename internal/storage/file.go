package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"ghwatch/pkg/logx"
)

// fileStore keeps state as plain files under one directory:
//
//	processed_events/<SafeName>.txt  newline-delimited keys
//	package_versions/<SafeName>.txt  last known tag
//	tracked.json                         registry snapshot
//	audit.jsonl                          append-only audit log
type fileStore struct {
	log logx.Logger
	dir string

	mu        sync.Mutex
	auditFile *os.File
}

const (
	processedDir = "processed_events"
	versionsDir  = "package_versions"
	trackedFile  = "tracked.json"
	auditFile    = "audit.jsonl"
)

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		dir = "data"
	}
	for _, sub := range []string{processedDir, versionsDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, err
		}
	}
	af, err := os.OpenFile(filepath.Join(dir, auditFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	log.Debug("file store opened", logx.String("dir", dir))
	return &fileStore{log: log, dir: dir, auditFile: af}, nil
}

func (s *fileStore) processedPath(resource string) string {
	return filepath.Join(s.dir, processedDir, SafeName(resource)+".txt")
}

func (s *fileStore) versionPath(pkg string) string {
	return filepath.Join(s.dir, versionsDir, SafeName(pkg)+".txt")
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

func (s *fileStore) checkOpenLocked() error {
	if s.auditFile == nil {
		return ErrClosed
	}
	return nil
}

func (s *fileStore) LoadProcessed(ctx context.Context, resource string) ([]string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.processedPath(resource))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var keys []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if k := strings.TrimSpace(sc.Text()); k != "" {
			keys = append(keys, k)
		}
	}
	return keys, sc.Err()
}

func (s *fileStore) AppendProcessed(ctx context.Context, resource string, keys ...string) error {
	_ = ctx
	keys = trimKeys(keys)
	if len(keys) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return err
	}

	f, err := os.OpenFile(s.processedPath(resource), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, k := range keys {
		_, _ = w.WriteString(k)
		_ = w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *fileStore) SaveProcessed(ctx context.Context, resource string, keys []string) error {
	_ = ctx
	keys = trimKeys(keys)
	sort.Strings(keys)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return err
	}
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('\n')
	}
	return writeFileAtomic(s.processedPath(resource), []byte(b.String()))
}

func (s *fileStore) PurgeProcessed(ctx context.Context, resource string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return err
	}
	return removeIfExists(s.processedPath(resource))
}

func (s *fileStore) GetVersionMark(ctx context.Context, pkg string) (string, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return "", false, err
	}
	b, err := os.ReadFile(s.versionPath(pkg))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	tag := strings.TrimSpace(string(b))
	return tag, tag != "", nil
}

func (s *fileStore) PutVersionMark(ctx context.Context, pkg, tag string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return err
	}
	return writeFileAtomic(s.versionPath(pkg), []byte(strings.TrimSpace(tag)+"\n"))
}

func (s *fileStore) DeleteVersionMark(ctx context.Context, pkg string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return err
	}
	return removeIfExists(s.versionPath(pkg))
}

func (s *fileStore) LoadTracked(ctx context.Context) ([]TrackedRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return nil, err
	}
	return s.readTrackedLocked()
}

func (s *fileStore) PutTracked(ctx context.Context, r TrackedRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return err
	}
	recs, err := s.readTrackedLocked()
	if err != nil {
		return err
	}
	replaced := false
	for i := range recs {
		if recs[i].Kind == r.Kind && recs[i].Name == r.Name {
			recs[i] = r
			replaced = true
		}
	}
	if !replaced {
		recs = append(recs, r)
	}
	return s.writeTrackedLocked(recs)
}

func (s *fileStore) DeleteTracked(ctx context.Context, kind, name string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return err
	}
	recs, err := s.readTrackedLocked()
	if err != nil {
		return err
	}
	out := recs[:0]
	for _, r := range recs {
		if r.Kind == kind && r.Name == name {
			continue
		}
		out = append(out, r)
	}
	return s.writeTrackedLocked(out)
}

func (s *fileStore) readTrackedLocked() ([]TrackedRecord, error) {
	b, err := os.ReadFile(filepath.Join(s.dir, trackedFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var recs []TrackedRecord
	if err := json.Unmarshal(b, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *fileStore) writeTrackedLocked(recs []TrackedRecord) error {
	if recs == nil {
		recs = []TrackedRecord{}
	}
	b, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(s.dir, trackedFile), b)
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpenLocked(); err != nil {
		return err
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

// writeFileAtomic writes to a temp file in the same directory and renames it
// over path.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
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
	return os.Rename(tmp, path)
}

func removeIfExists(path string) error {
	err := os.Remove(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
