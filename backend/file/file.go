// Package file stores one JSON checkpoint file per run in a directory.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cschleiden/go-dslflow/backend"
	"github.com/cschleiden/go-dslflow/core"
	"github.com/cschleiden/go-dslflow/internal/metrickeys"
	"github.com/cschleiden/go-dslflow/log"
	"github.com/cschleiden/go-dslflow/metrics"
	"github.com/gofrs/flock"
	"go.opentelemetry.io/otel/trace"
)

const (
	extension = ".json"
	lockFile  = ".lock"

	// Staging files are named "<checkpoint file>.tmp-<random>". They never end in
	// extension, so List ignores them whatever the run ID.
	stagingSuffix = ".tmp-"
)

type options struct {
	backend.Options

	// LockRetryDelay is the delay between attempts to take the directory lock.
	LockRetryDelay time.Duration

	// FileMode is the permission of checkpoint files.
	FileMode fs.FileMode
}

type option func(*options)

func WithLockRetryDelay(d time.Duration) option {
	return func(o *options) {
		o.LockRetryDelay = d
	}
}

func WithFileMode(mode fs.FileMode) option {
	return func(o *options) {
		o.FileMode = mode
	}
}

// WithBackendOptions allows to pass generic backend options.
func WithBackendOptions(opts ...backend.BackendOption) option {
	return func(o *options) {
		for _, opt := range opts {
			opt(&o.Options)
		}
	}
}

var _ backend.Backend = (*fileBackend)(nil)

// NewFileBackend stores checkpoints in dir, creating it if necessary. Writers in
// different processes are serialized with an advisory lock on the directory.
func NewFileBackend(dir string, opts ...option) (*fileBackend, error) {
	o := &options{
		Options:        backend.ApplyOptions(),
		LockRetryDelay: 10 * time.Millisecond,
		FileMode:       0o644,
	}

	for _, opt := range opts {
		opt(o)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	return &fileBackend{
		dir:     dir,
		writers: make(chan struct{}, 1),
		lock:    flock.New(filepath.Join(dir, lockFile)),
		options: o,
	}, nil
}

type fileBackend struct {
	dir string

	// writers serializes writers within the process. The flock is re-entrant for its
	// owner, so it only excludes other processes.
	writers chan struct{}
	lock    *flock.Flock

	options *options
}

func (fb *fileBackend) path(id string) string {
	return filepath.Join(fb.dir, url.PathEscape(id)+extension)
}

func (fb *fileBackend) Save(ctx context.Context, state *core.WorkflowState) error {
	data, err := backend.Encode(state)
	if err != nil {
		return err
	}

	defer metrics.StartTimer(fb.Metrics(), metrickeys.CheckpointSaveLatency, nil).Stop()

	if err := fb.write(ctx, state.ID, data); err != nil {
		return err
	}

	fb.Metrics().Counter(metrickeys.CheckpointSaved, nil, 1)

	return nil
}

// WriteRaw stores checkpoint bytes as-is.
func (fb *fileBackend) WriteRaw(ctx context.Context, id string, data []byte) error {
	return fb.write(ctx, id, data)
}

func (fb *fileBackend) write(ctx context.Context, id string, data []byte) error {
	unlock, err := fb.acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	return writeFileAtomic(fb.path(id), data, fb.options.FileMode)
}

// acquire takes the write lock of the state directory for this process and then across
// processes.
func (fb *fileBackend) acquire(ctx context.Context) (func(), error) {
	select {
	case fb.writers <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("locking state directory: %w", ctx.Err())
	}

	locked, err := fb.lock.TryLockContext(ctx, fb.options.LockRetryDelay)
	if err != nil || !locked {
		<-fb.writers

		if err == nil {
			err = errors.New("lock not acquired")
		}

		return nil, fmt.Errorf("locking state directory: %w", err)
	}

	return func() {
		if err := fb.lock.Unlock(); err != nil {
			fb.options.Logger.Error("unlocking state directory", "error", err)
		}

		<-fb.writers
	}, nil
}

// writeFileAtomic writes data to a staging file in the target directory, syncs it, and
// renames it over path. The directory is synced afterwards so the rename survives a crash.
func writeFileAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+stagingSuffix+"*")
	if err != nil {
		return fmt.Errorf("creating staging file: %w", err)
	}
	tmpName := tmp.Name()

	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("writing staging file: %w", err)
	}

	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("setting file mode: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing staging file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing staging file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("committing checkpoint: %w", err)
	}
	committed = true

	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("opening state directory: %w", err)
	}
	defer d.Close()

	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return fmt.Errorf("syncing state directory: %w", err)
	}

	return nil
}

func (fb *fileBackend) Load(ctx context.Context, id string) (*core.WorkflowState, error) {
	data, err := os.ReadFile(fb.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &backend.NotFoundError{ID: id}
		}

		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}

	state, err := backend.Decode(id, data)
	if err != nil {
		return nil, err
	}

	fb.Metrics().Counter(metrickeys.CheckpointLoaded, nil, 1)

	return state, nil
}

func (fb *fileBackend) Delete(ctx context.Context, id string) error {
	unlock, err := fb.acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := os.Stat(fb.path(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &backend.NotFoundError{ID: id}
		}

		return fmt.Errorf("checking checkpoint: %w", err)
	}

	ids, err := fb.ids()
	if err != nil {
		return err
	}

	for _, candidate := range ids {
		if !backend.Covers(id, candidate) {
			continue
		}

		if err := os.Remove(fb.path(candidate)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing checkpoint %q: %w", candidate, err)
		}
	}

	return syncDir(fb.dir)
}

// ids returns the run IDs of all checkpoint files in the directory.
func (fb *fileBackend) ids() ([]string, error) {
	entries, err := os.ReadDir(fb.dir)
	if err != nil {
		return nil, fmt.Errorf("reading state directory: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, extension) {
			continue
		}

		id, err := url.PathUnescape(strings.TrimSuffix(name, extension))
		if err != nil {
			fb.options.Logger.Warn("ignoring unexpected file in state directory", "file", name)
			continue
		}

		ids = append(ids, id)
	}

	return ids, nil
}

func (fb *fileBackend) List(ctx context.Context) ([]*core.Summary, error) {
	ids, err := fb.ids()
	if err != nil {
		return nil, err
	}

	summaries := make([]*core.Summary, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		state, err := fb.Load(ctx, id)
		if err != nil {
			if errors.Is(err, backend.ErrNotFound) {
				// Deleted concurrently
				continue
			}

			var corrupt *backend.CorruptStateError
			if errors.As(err, &corrupt) {
				fb.options.Logger.Warn("skipping unreadable checkpoint", log.RunIDKey, id, "error", err)
				continue
			}

			return nil, err
		}

		summaries = append(summaries, state.Summarize())
	}

	backend.SortSummaries(summaries)

	return summaries, nil
}

func (fb *fileBackend) Tracer() trace.Tracer {
	return fb.options.TracerProvider.Tracer(backend.TracerName)
}

func (fb *fileBackend) Metrics() metrics.Client {
	return fb.options.Metrics.WithTags(metrics.Tags{metrickeys.Backend: "file"})
}

func (fb *fileBackend) Options() *backend.Options {
	return &fb.options.Options
}

func (fb *fileBackend) Close() error {
	return fb.lock.Close()
}
