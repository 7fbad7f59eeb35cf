package resource

import (
	"context"
	_ "crypto/sha256" // registers digest.SHA256
	_ "crypto/sha512" // registers digest.SHA384 and digest.SHA512
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"

	"github.com/nugget/jarvis-core/internal/events"
	"github.com/nugget/jarvis-core/internal/httpkit"
)

// LevelTrace is below Debug, used for per-chunk download progress.
const LevelTrace = slog.Level(-8)

// Progress reports bytes transferred so far. Total is zero when the
// remote did not announce a size.
type Progress struct {
	Done  int64
	Total int64
}

// Percent returns completion in [0,100], or -1 when Total is unknown.
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return -1
	}
	pct := float64(p.Done) / float64(p.Total) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// ProgressFunc observes a transfer.
type ProgressFunc func(Progress)

// Fetcher transfers one remote file into dir and returns the path it
// was written to. Implementations live in package download.
type Fetcher interface {
	Fetch(ctx context.Context, remote Remote, dir string, progress ProgressFunc) (string, error)
}

// FetcherFunc adapts a function to [Fetcher].
type FetcherFunc func(ctx context.Context, remote Remote, dir string, progress ProgressFunc) (string, error)

// Fetch implements [Fetcher].
func (f FetcherFunc) Fetch(ctx context.Context, remote Remote, dir string, progress ProgressFunc) (string, error) {
	return f(ctx, remote, dir, progress)
}

// ErrValidation marks a fetch error as a local problem. Fetchers wrap it
// for failures that retrying cannot fix, such as a checksum mismatch
// reported by the remote.
var ErrValidation = errors.New("validation failed")

// OutcomeKind classifies how an acquisition ended.
type OutcomeKind int

const (
	// OutcomePending is the zero value: not run yet, or no acquisition.
	OutcomePending OutcomeKind = iota
	OutcomeSuccess
	// OutcomeNetworkFailure covers connectivity problems, rate limiting
	// and remote errors. Trying again later may work.
	OutcomeNetworkFailure
	// OutcomeValidationFailure covers local problems: the target
	// directory cannot be created, the disk is full, permission is
	// denied, or the downloaded file failed its checks.
	OutcomeValidationFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomePending:
		return "pending"
	case OutcomeSuccess:
		return "success"
	case OutcomeNetworkFailure:
		return "network_failure"
	case OutcomeValidationFailure:
		return "validation_failure"
	}
	return fmt.Sprintf("OutcomeKind(%d)", int(k))
}

// Outcome is the result of a job. Path is set on success, Reason on
// failure.
type Outcome struct {
	Kind   OutcomeKind
	Path   string
	Reason string
}

// Job is one acquisition.
type Job struct {
	ID        uuid.UUID
	Variant   string
	Remote    Remote
	TargetDir string
	// Expected is the path resolution predicted. When the fetcher lands
	// the file elsewhere, the outcome carries the actual path.
	Expected string
	// Digest, when set, must match the downloaded file.
	Digest digest.Digest

	Outcome  Outcome
	Bytes    int64
	Started  time.Time
	Finished time.Time
}

// NewJob prepares a job for the descriptor's selected variant, landing
// at expected.
func NewJob(d Descriptor, expected string) Job {
	return Job{
		ID:        newJobID(),
		Variant:   d.Variant().Key,
		Remote:    d.Remote(),
		TargetDir: filepath.Dir(expected),
		Expected:  expected,
		Digest:    d.Variant().Digest,
	}
}

func newJobID() uuid.UUID {
	if id, err := uuid.NewV7(); err == nil {
		return id
	}
	return uuid.New()
}

// Acquirer runs acquisition jobs.
type Acquirer struct {
	Fetcher Fetcher
	Bus     *events.Bus
	Logger  *slog.Logger
	// Progress, when set, receives monotonically non-decreasing updates.
	Progress ProgressFunc
	// ProgressInterval throttles acquire_progress events. Zero means
	// 500ms.
	ProgressInterval time.Duration
}

// Acquire makes one attempt at the job and returns it with Outcome
// filled in. It never retries: a failed attempt is reported and the
// caller decides what to do next. Errors from the fetcher are
// classified, never returned.
func (a *Acquirer) Acquire(ctx context.Context, job Job) Job {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if job.ID == uuid.Nil {
		job.ID = newJobID()
	}
	job.Started = time.Now()
	logger = logger.With("job_id", job.ID, "remote", job.Remote.String(), "target_dir", job.TargetDir)

	a.Bus.Emit(events.SourceResource, events.KindAcquireStart, map[string]any{
		"job_id":     job.ID.String(),
		"remote":     job.Remote.String(),
		"target_dir": job.TargetDir,
	})
	logger.Info("acquiring model")

	job.Outcome, job.Bytes = a.run(ctx, &job, logger)
	job.Finished = time.Now()

	elapsed := job.Finished.Sub(job.Started)
	a.Bus.Emit(events.SourceResource, events.KindAcquireDone, map[string]any{
		"job_id":     job.ID.String(),
		"variant":    job.Variant,
		"remote":     job.Remote.String(),
		"target_dir": job.TargetDir,
		"outcome":    job.Outcome.Kind.String(),
		"path":       job.Outcome.Path,
		"reason":     job.Outcome.Reason,
		"bytes":      job.Bytes,
		"elapsed_ms": elapsed.Milliseconds(),
	})
	if job.Outcome.Kind == OutcomeSuccess {
		logger.Info("model acquired", "path", job.Outcome.Path, "bytes", job.Bytes, "elapsed", elapsed.Round(time.Millisecond))
	} else {
		logger.Error("model acquisition failed", "outcome", job.Outcome.Kind.String(), "reason", job.Outcome.Reason)
	}
	return job
}

func (a *Acquirer) run(ctx context.Context, job *Job, logger *slog.Logger) (Outcome, int64) {
	fail := func(kind OutcomeKind, format string, args ...any) (Outcome, int64) {
		return Outcome{Kind: kind, Reason: fmt.Sprintf(format, args...)}, 0
	}

	if job.TargetDir == "" {
		return fail(OutcomeValidationFailure, "no target directory for %s", job.Remote)
	}
	if err := os.MkdirAll(job.TargetDir, 0o755); err != nil {
		return fail(OutcomeValidationFailure, "create target directory %s: %v", job.TargetDir, err)
	}
	if a.Fetcher == nil {
		return fail(OutcomeValidationFailure, "no fetcher configured for %s", job.Remote)
	}

	path, err := a.Fetcher.Fetch(ctx, job.Remote, job.TargetDir, a.progress(job.ID, logger))
	if err != nil {
		return fail(Classify(err), "download %s into %s: %v", job.Remote, job.TargetDir, err)
	}

	if path == "" {
		path = job.Expected
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(job.TargetDir, path)
	}
	path = filepath.Clean(path)

	info, err := os.Stat(path)
	switch {
	case err != nil:
		return fail(OutcomeValidationFailure, "downloaded %s but %s is not readable: %v", job.Remote, path, err)
	case !info.Mode().IsRegular():
		return fail(OutcomeValidationFailure, "downloaded %s but %s is not a regular file", job.Remote, path)
	case info.Size() == 0:
		return fail(OutcomeValidationFailure, "downloaded %s but %s is empty", job.Remote, path)
	}

	if job.Digest != "" {
		if err := verifyDigest(path, job.Digest); err != nil {
			if rmErr := os.Remove(path); rmErr != nil {
				logger.Warn("failed to remove unverified download", "path", path, "error", rmErr)
			}
			return fail(OutcomeValidationFailure, "verify %s: %v", path, err)
		}
		logger.Debug("digest verified", "path", path, "digest", job.Digest.String())
	}

	if job.Expected != "" && path != filepath.Clean(job.Expected) {
		logger.Info("model landed at a different path than expected", "expected", job.Expected, "actual", path)
		a.Bus.Emit(events.SourceResource, events.KindPathDiscrepancy, map[string]any{
			"job_id":   job.ID.String(),
			"expected": job.Expected,
			"actual":   path,
		})
	}

	return Outcome{Kind: OutcomeSuccess, Path: path}, info.Size()
}

// progress wraps the observer so that it only ever sees increasing
// byte counts, and publishes throttled progress events.
func (a *Acquirer) progress(id uuid.UUID, logger *slog.Logger) ProgressFunc {
	interval := a.ProgressInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	var (
		mu       sync.Mutex
		high     int64 = -1
		lastEmit time.Time
	)
	return func(p Progress) {
		mu.Lock()
		if p.Done <= high {
			mu.Unlock()
			return
		}
		high = p.Done
		emit := time.Since(lastEmit) >= interval || (p.Total > 0 && p.Done >= p.Total)
		if emit {
			lastEmit = time.Now()
		}
		mu.Unlock()

		if a.Progress != nil {
			a.Progress(p)
		}
		if emit {
			logger.Log(context.Background(), LevelTrace, "download progress",
				"bytes", p.Done, "total", p.Total)
			a.Bus.Emit(events.SourceResource, events.KindAcquireProgress, map[string]any{
				"job_id": id.String(),
				"bytes":  p.Done,
				"total":  p.Total,
			})
		}
	}
}

func verifyDigest(path string, want digest.Digest) error {
	if err := want.Validate(); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	got, err := want.Algorithm().FromReader(f)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("digest mismatch: want %s, got %s", want, got)
	}
	return nil
}

// Classify sorts a fetch error into a network or validation failure.
// Connect-level failures ([httpkit.IsRetryableError]) are network
// failures. Local filesystem problems (no space, read-only, permission denied) and
// errors wrapping [ErrValidation] are validation failures. Everything
// else, including remote HTTP errors, timeouts and unrecognized errors,
// is treated as a network failure.
func Classify(err error) OutcomeKind {
	if err == nil {
		return OutcomeSuccess
	}
	if errors.Is(err, ErrValidation) {
		return OutcomeValidationFailure
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return OutcomeNetworkFailure
	}
	// Connect failures can arrive wrapped in a *fs.PathError (unix
	// sockets, proxies), so they are checked before the local classes.
	if httpkit.IsRetryableError(err) {
		return OutcomeNetworkFailure
	}

	var status interface{ StatusCode() int }
	if errors.As(err, &status) {
		return OutcomeNetworkFailure
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return OutcomeNetworkFailure
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ENOSPC, syscall.EDQUOT, syscall.EROFS, syscall.EACCES, syscall.EPERM:
			return OutcomeValidationFailure
		}
	}
	if errors.Is(err, fs.ErrPermission) {
		return OutcomeValidationFailure
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return OutcomeValidationFailure
	}
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return OutcomeValidationFailure
	}
	return OutcomeNetworkFailure
}
