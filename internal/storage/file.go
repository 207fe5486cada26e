package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/yp-alpha/progression/internal/progression"
)

const (
	// snapshotVersion is bumped when the file layout changes.
	snapshotVersion = 1

	snapshotFileName = "ledger.json"
	appDirName       = "progression"

	defaultFlushInterval = 5 * time.Second
)

// snapshot is the on-disk layout of a FileStore.
type snapshot struct {
	Version     int                                 `json:"version"`
	Records     map[string]*progression.Record      `json:"records"`
	Completions map[string][]progression.Completion `json:"completions"`
	SavedAt     time.Time                           `json:"savedAt"`
}

// FileStore keeps every record in memory and persists the whole ledger as
// one JSON file. Commits are applied under a single mutex and flushed to
// disk by Run. A FileStore with no directory never touches disk.
type FileStore struct {
	dir     string
	log     *slog.Logger
	flushMu sync.Mutex // orders snapshot writes

	mu          sync.Mutex
	records     map[string]*progression.Record
	completions map[string][]progression.Completion
	dirty       bool
}

// NewMemoryStore returns a FileStore that is never persisted.
func NewMemoryStore() *FileStore {
	return &FileStore{
		log:         slog.Default(),
		records:     make(map[string]*progression.Record),
		completions: make(map[string][]progression.Completion),
	}
}

// OpenFileStore loads the ledger in dir, creating an empty one if the file
// does not exist. Pass an empty string to use the default XDG state path.
func OpenFileStore(dir string, log *slog.Logger) (*FileStore, error) {
	if dir == "" {
		dir = defaultStateDir()
	}
	if log == nil {
		log = slog.Default()
	}
	s := NewMemoryStore()
	s.dir = dir
	s.log = log

	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("reading ledger: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing ledger: %w", err)
	}
	if snap.Version > snapshotVersion {
		return nil, fmt.Errorf("ledger version %d is newer than supported version %d", snap.Version, snapshotVersion)
	}
	for id, rec := range snap.Records {
		if rec.Milestones == nil {
			rec.Milestones = make(map[string]time.Time)
		}
		s.records[id] = rec
	}
	for id, entries := range snap.Completions {
		s.completions[id] = entries
	}
	return s, nil
}

// Path returns the full path to the ledger file, or "" for a memory store.
func (s *FileStore) Path() string {
	if s.dir == "" {
		return ""
	}
	return filepath.Join(s.dir, snapshotFileName)
}

func (s *FileStore) Load(_ context.Context, userID string) (*progression.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if !ok {
		return nil, progression.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *FileStore) Create(_ context.Context, rec *progression.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.UserID]; ok {
		return progression.ErrAlreadyEnrolled
	}
	rec.Version = 1
	s.records[rec.UserID] = rec.Clone()
	s.dirty = true
	return nil
}

func (s *FileStore) Commit(_ context.Context, rec *progression.Record, entry *progression.Completion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[rec.UserID]
	if !ok {
		return progression.ErrNotFound
	}
	if cur.Version != rec.Version {
		return progression.ErrConflict
	}
	if entry != nil {
		for i := range s.completions[rec.UserID] {
			if s.completions[rec.UserID][i].SameSlot(entry) {
				return progression.ErrAlreadyCompleted
			}
		}
		s.completions[rec.UserID] = append(s.completions[rec.UserID], *entry)
	}
	rec.Version++
	s.records[rec.UserID] = rec.Clone()
	s.dirty = true
	return nil
}

func (s *FileStore) Completions(_ context.Context, userID string) ([]progression.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.completions[userID]
	out := make([]progression.Completion, len(log))
	copy(out, log)
	return out, nil
}

// Run flushes dirty state every interval. It blocks until ctx is
// cancelled, then performs a final flush.
func (s *FileStore) Run(ctx context.Context, interval time.Duration) {
	if s.dir == "" {
		<-ctx.Done()
		return
	}
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.Flush(); err != nil {
				s.log.Error("final ledger flush failed", "error", err)
			}
			return
		case <-ticker.C:
			if err := s.Flush(); err != nil {
				s.log.Error("ledger flush failed", "error", err)
			}
		}
	}
}

// Flush writes the ledger if it changed since the last flush.
func (s *FileStore) Flush() error {
	if s.dir == "" {
		return nil
	}
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	data, err := json.MarshalIndent(snapshot{
		Version:     snapshotVersion,
		Records:     s.records,
		Completions: s.completions,
		SavedAt:     time.Now().UTC(),
	}, "", "  ")
	s.dirty = false
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshaling ledger: %w", err)
	}

	if err := s.write(append(data, '\n')); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return err
	}
	return nil
}

// write replaces the ledger file using an atomic temp-file-then-rename.
func (s *FileStore) write(data []byte) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("creating ledger dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".ledger-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path()); err != nil {
		return fmt.Errorf("renaming ledger file: %w", err)
	}
	committed = true
	return nil
}

// Close flushes any pending changes.
func (s *FileStore) Close() error {
	return s.Flush()
}

// defaultStateDir returns ~/.local/state/progression, respecting
// XDG_STATE_HOME if set.
func defaultStateDir() string {
	if base := os.Getenv("XDG_STATE_HOME"); base != "" {
		return filepath.Join(base, appDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".local", "state", appDirName)
}
