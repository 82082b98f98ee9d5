// Package archive keeps recordings on local disk: the full-session backups
// a participant chose to save and the recordings still held when an
// interview ends without a successful upload.
//
// Each recording is stored as <kind>-<uuid>.<ext> next to a JSON sidecar
// with the same base name. A lock file in the spool directory serializes
// writers across processes, so the interview runner and the recordings
// command can share one directory.
package archive

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/MrWong99/fieldvoice/internal/capture"
)

// ErrNotFound is returned by [Spool.Get] and [Spool.Remove] when no entry
// with the requested ID exists.
var ErrNotFound = errors.New("archive: entry not found")

const (
	lockFile      = ".fieldvoice.lock"
	sidecarSuffix = ".json"
	lockRetry     = 50 * time.Millisecond
)

// Entry describes one archived recording.
type Entry struct {
	ID              string         `json:"id"`
	Kind            capture.Source `json:"kind"`
	File            string         `json:"file"`
	MIMEType        string         `json:"mime_type"`
	Size            int64          `json:"size"`
	DurationSeconds int            `json:"duration_seconds"`
	RecordedAt      time.Time      `json:"recorded_at"`
	SavedAt         time.Time      `json:"saved_at"`
	QuestionID      string         `json:"question_id,omitempty"`
	// Session is the access token prefix of the interview, for operators
	// matching files to sessions.
	Session string `json:"session,omitempty"`
}

// Spool is an archive directory. It satisfies [capture.Archiver].
//
// All methods are safe for concurrent use, including from several processes.
type Spool struct {
	dir string
	// mu serializes goroutines of this process; the file lock only excludes
	// other processes.
	mu      sync.Mutex
	lock    *flock.Flock
	session string
	now     func() time.Time
}

var _ capture.Archiver = (*Spool)(nil)

// Option configures a [Spool].
type Option func(*Spool)

// WithSession tags every saved entry with a session label.
func WithSession(label string) Option {
	return func(s *Spool) { s.session = label }
}

// WithClock overrides the clock used for SavedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Spool) { s.now = now }
}

// Open creates dir if needed and returns a spool on it.
func Open(dir string, opts ...Option) (*Spool, error) {
	if dir == "" {
		return nil, errors.New("archive: directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("archive: create %s: %w", dir, err)
	}
	s := &Spool{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, lockFile)),
		now:  time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Dir returns the spool directory.
func (s *Spool) Dir() string { return s.dir }

func (s *Spool) lockWrite(ctx context.Context) error {
	s.mu.Lock()
	ok, err := s.lock.TryLockContext(ctx, lockRetry)
	return s.locked(ok, err)
}

func (s *Spool) lockRead(ctx context.Context) error {
	s.mu.Lock()
	ok, err := s.lock.TryRLockContext(ctx, lockRetry)
	return s.locked(ok, err)
}

func (s *Spool) locked(ok bool, err error) error {
	if err == nil && ok {
		return nil
	}
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("archive: lock: %w", err)
	}
	return errors.New("archive: lock: not acquired")
}

func (s *Spool) unlock() {
	_ = s.lock.Unlock()
	s.mu.Unlock()
}

// Save writes rec and its sidecar and returns the recording's path.
func (s *Spool) Save(ctx context.Context, rec *capture.Recording) (string, error) {
	if rec == nil {
		return "", errors.New("archive: nil recording")
	}
	if err := s.lockWrite(ctx); err != nil {
		return "", err
	}
	defer s.unlock()

	id := uuid.NewString()
	name := fmt.Sprintf("%s-%s%s", rec.Source, id, capture.ExtensionFor(rec.MIMEType))
	e := Entry{
		ID:              id,
		Kind:            rec.Source,
		File:            name,
		MIMEType:        rec.MIMEType,
		Size:            int64(len(rec.Data)),
		DurationSeconds: rec.Duration,
		RecordedAt:      rec.StartedAt.UTC(),
		SavedAt:         s.now().UTC(),
		QuestionID:      rec.QuestionID.String(),
		Session:         s.session,
	}
	meta, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return "", fmt.Errorf("archive: encode sidecar: %w", err)
	}

	path := filepath.Join(s.dir, name)
	if err := writeFile(path, rec.Data); err != nil {
		return "", err
	}
	if err := writeFile(sidecarPath(path), meta); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

// List returns every entry, newest first.
func (s *Spool) List(ctx context.Context) ([]Entry, error) {
	if err := s.lockRead(ctx); err != nil {
		return nil, err
	}
	defer s.unlock()
	return s.scan()
}

// Get returns the entry with the given ID.
func (s *Spool) Get(ctx context.Context, id string) (Entry, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return Entry{}, err
	}
	for _, e := range entries {
		if e.ID == id {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Path returns the absolute location of e's recording.
func (s *Spool) Path(e Entry) string {
	return filepath.Join(s.dir, e.File)
}

// Remove deletes the recording and sidecar of the entry with the given ID.
func (s *Spool) Remove(ctx context.Context, id string) error {
	if err := s.lockWrite(ctx); err != nil {
		return err
	}
	defer s.unlock()

	entries, err := s.scan()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.ID != id {
			continue
		}
		path := s.Path(e)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("archive: remove %s: %w", e.File, err)
		}
		if err := os.Remove(sidecarPath(path)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("archive: remove sidecar of %s: %w", e.File, err)
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// scan reads every sidecar. Sidecars that cannot be parsed are skipped.
func (s *Spool) scan() ([]Entry, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("archive: read %s: %w", s.dir, err)
	}
	var out []Entry
	for _, d := range dirents {
		if d.IsDir() || !strings.HasSuffix(d.Name(), sidecarSuffix) {
			continue
		}
		b, err := os.ReadFile(filepath.Join(s.dir, d.Name()))
		if err != nil {
			continue
		}
		var e Entry
		if err := json.Unmarshal(b, &e); err != nil || e.ID == "" {
			continue
		}
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entry) int {
		if c := b.SavedAt.Compare(a.SavedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.File, b.File)
	})
	return out, nil
}

func sidecarPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + sidecarSuffix
}

// writeFile writes data through a temporary file so readers never see a
// partial recording.
func writeFile(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("archive: create temp: %w", err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("archive: write %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("archive: close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("archive: rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
