package resource

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/im7mortal/kmutex"

	"github.com/nugget/jarvis-core/internal/events"
)

// Config configures a [Resolver].
type Config struct {
	Descriptor DescriptorOptions
	Fetcher    Fetcher
	// Progress observes downloads, e.g. a terminal progress printer.
	Progress ProgressFunc
	// Timeout bounds a single acquisition. Zero means none.
	Timeout time.Duration
}

// Resolver is the entry point for callers that need the model file. It
// is safe for concurrent use: at most one acquisition per target path is
// in flight, and callers that arrive while one runs wait for it and then
// see its result on disk.
type Resolver struct {
	opts    DescriptorOptions
	acq     *Acquirer
	timeout time.Duration
	logger  *slog.Logger
	bus     *events.Bus
	locks   *kmutex.Kmutex

	mu sync.Mutex
	// relocated remembers acquisitions whose file landed somewhere other
	// than the predicted path, keyed by the predicted path.
	relocated map[string]string
}

// NewResolver creates a resolver.
func NewResolver(cfg Config) *Resolver {
	logger := cfg.Descriptor.Logger
	if logger == nil {
		logger = slog.Default()
		cfg.Descriptor.Logger = logger
	}
	return &Resolver{
		opts: cfg.Descriptor,
		acq: &Acquirer{
			Fetcher:  cfg.Fetcher,
			Bus:      cfg.Descriptor.Bus,
			Logger:   logger,
			Progress: cfg.Progress,
		},
		timeout:   cfg.Timeout,
		logger:    logger,
		bus:       cfg.Descriptor.Bus,
		locks:     kmutex.New(),
		relocated: make(map[string]string),
	}
}

// Describe builds the descriptor for the given inputs.
func (r *Resolver) Describe(settings Settings, env Env) Descriptor {
	return BuildDescriptor(settings, env, r.opts)
}

// Status resolves without acquiring.
func (r *Resolver) Status(settings Settings, env Env) Artifact {
	d := r.Describe(settings, env)
	return r.report(r.lookup(d))
}

// GetOrAcquire returns a Ready artifact, downloading the model first if
// it is missing.
//
// An Invalid resolution (bad explicit path) is returned as is, with no
// download attempted. A Missing one triggers a single acquisition into
// the candidate's directory. On success the artifact is re-resolved at
// the path the download actually produced, with source
// post-acquisition. A network failure yields Missing and a validation
// failure yields Invalid; either way Reason says what went wrong and
// Failure says which kind it was.
func (r *Resolver) GetOrAcquire(ctx context.Context, settings Settings, env Env) Artifact {
	d := r.Describe(settings, env)
	a := r.lookup(d)
	if a.Status != StatusMissing {
		return r.report(a)
	}
	r.report(a)

	r.locks.Lock(a.Path)
	defer r.locks.Unlock(a.Path)

	// Another caller may have finished the download while we waited.
	if again := r.lookup(d); again.Status != StatusMissing {
		return r.report(again)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	job := r.acq.Acquire(ctx, NewJob(d, a.Path))
	switch job.Outcome.Kind {
	case OutcomeSuccess:
		if job.Outcome.Path != a.Path {
			r.mu.Lock()
			r.relocated[a.Path] = job.Outcome.Path
			r.mu.Unlock()
		}
		return r.report(inspect(job.Outcome.Path, a.Variant))
	case OutcomeValidationFailure:
		a.Status = StatusInvalid
	default:
		a.Status = StatusMissing
	}
	a.Reason = job.Outcome.Reason
	a.Failure = job.Outcome.Kind
	return r.report(a)
}

// lookup resolves d, consulting earlier relocated acquisitions when the
// predicted path is missing.
func (r *Resolver) lookup(d Descriptor) Artifact {
	a := Resolve(d)
	if a.Status != StatusMissing {
		return a
	}
	r.mu.Lock()
	actual, ok := r.relocated[a.Path]
	r.mu.Unlock()
	if !ok {
		return a
	}
	if moved := inspect(actual, a.Variant); moved.Ready() {
		return moved
	}
	return a
}

// report logs and publishes a resolution and returns it unchanged.
func (r *Resolver) report(a Artifact) Artifact {
	attrs := []any{
		"status", a.Status.String(),
		"path", a.Path,
		"source", string(a.Source),
	}
	if a.Variant != "" {
		attrs = append(attrs, "variant", a.Variant)
	}
	switch a.Status {
	case StatusReady:
		r.logger.Info("model resolved", attrs...)
	case StatusMissing:
		if a.Failure == OutcomePending {
			r.logger.Debug("model not present", attrs...)
		} else {
			r.logger.Warn("model unavailable", append(attrs, "reason", a.Reason)...)
		}
	case StatusInvalid:
		r.logger.Error("model unusable", append(attrs, "reason", a.Reason)...)
	}

	data := map[string]any{
		"status": a.Status.String(),
		"path":   a.Path,
		"source": string(a.Source),
	}
	if a.Variant != "" {
		data["variant"] = a.Variant
	}
	if a.Reason != "" {
		data["reason"] = a.Reason
	}
	if a.Failure != OutcomePending {
		data["failure"] = a.Failure.String()
	}
	r.bus.Emit(events.SourceResource, events.KindStatus, data)
	return a
}

// ModelDir returns the directory default variants resolve into for the
// given environment, for display.
func (r *Resolver) ModelDir(env Env) string {
	dir := baseDir(env, r.opts)
	if abs, err := absPath(dir); err == nil {
		return abs
	}
	return filepath.Clean(dir)
}
