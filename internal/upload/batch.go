// Package upload coordinates multi-file upload batches.
//
// A batch runs in two phases. Phase one fans the upload requests out
// concurrently and collects the backend-assigned document ids. Phase two
// opens one notification channel and waits for each document's background
// processing to finish. Settlement — the point where the per-file outcome is
// final — happens exactly once per batch, on every exit path: all documents
// reported, channel transport failure, processing timeout, or cancellation.
package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/alcovehq/alcove/internal/log"
	"github.com/alcovehq/alcove/internal/notify"
)

var (
	// ErrBatchSettled indicates Await was called on an already-settled batch.
	ErrBatchSettled = errors.New("batch already settled")

	// ErrProcessingTimeout marks documents whose processing outcome was
	// still unknown when the wait bound expired.
	ErrProcessingTimeout = errors.New("processing wait timed out")

	// ErrChannelLost marks documents whose outcome became unknowable when
	// the notification transport died.
	ErrChannelLost = errors.New("notification channel lost")
)

// Uploader uploads one file and returns the backend document id.
// *api.Client satisfies this.
type Uploader interface {
	UploadDocument(ctx context.Context, workspaceID, path string) (string, error)
}

// Channel is the slice of a notification channel the coordinator consumes.
type Channel interface {
	Events() <-chan notify.Event
	Err() error
	Close() error
}

// ChannelOpener opens one notification channel for a batch. The coordinator
// owns the returned channel and closes it on settlement.
type ChannelOpener interface {
	OpenChannel(ctx context.Context) (Channel, error)
}

// OpenerFunc adapts a function to the ChannelOpener interface.
type OpenerFunc func(ctx context.Context) (Channel, error)

// OpenChannel implements ChannelOpener.
func (f OpenerFunc) OpenChannel(ctx context.Context) (Channel, error) { return f(ctx) }

// FileError is an upload request that failed before a document id existed.
// The file was never registered with the backend; it is reported separately
// from per-document outcomes.
type FileError struct {
	Path string
	Err  error
}

// DocumentError is a document that acquired an id and then failed processing
// or was left in an unknown state.
type DocumentError struct {
	DocumentID string
	Path       string
	Err        error

	// Indeterminate is true when the outcome is unknown (channel lost,
	// timeout) rather than a reported processing failure. The document may
	// well finish processing later; the user should check back.
	Indeterminate bool
}

// Result is the settled outcome of a batch.
// len(Succeeded)+len(Failed) never exceeds the number of acquired document
// ids; Rejected covers files that never acquired one.
type Result struct {
	Succeeded []string
	Failed    []DocumentError
	Rejected  []FileError
}

// Clean reports whether every file uploaded and processed successfully.
func (r *Result) Clean() bool {
	return len(r.Failed) == 0 && len(r.Rejected) == 0
}

// Indeterminate returns the document errors with unknown outcomes.
func (r *Result) Indeterminate() []DocumentError {
	var out []DocumentError
	for _, d := range r.Failed {
		if d.Indeterminate {
			out = append(out, d)
		}
	}
	return out
}

// Options configures a Coordinator.
type Options struct {
	// Concurrency bounds the upload fan-out. Zero means a small default;
	// batches are small so this exists to avoid saturating the uplink, not
	// as a queueing system.
	Concurrency int

	// ProcessingWait bounds phase two. Zero means a generous default; on
	// expiry the batch settles with the remaining documents indeterminate
	// instead of hanging forever on a silent backend.
	ProcessingWait time.Duration
}

const (
	defaultConcurrency    = 4
	defaultProcessingWait = 10 * time.Minute
)

// Coordinator runs upload batches. Safe for concurrent use; each call to
// UploadAll produces an independent batch.
type Coordinator struct {
	uploader Uploader
	opener   ChannelOpener
	opts     Options
	logger   log.Logger
	tracer   trace.Tracer
}

// NewCoordinator creates a batch coordinator.
func NewCoordinator(uploader Uploader, opener ChannelOpener, opts Options, logger log.Logger) (*Coordinator, error) {
	if uploader == nil {
		return nil, errors.New("upload.NewCoordinator: uploader is required")
	}
	if opener == nil {
		return nil, errors.New("upload.NewCoordinator: channel opener is required")
	}
	if logger == nil {
		return nil, errors.New("upload.NewCoordinator: logger is required")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.ProcessingWait <= 0 {
		opts.ProcessingWait = defaultProcessingWait
	}

	return &Coordinator{
		uploader: uploader,
		opener:   opener,
		opts:     opts,
		logger:   logger,
		tracer:   otel.Tracer("alcove/upload"),
	}, nil
}

// Batch holds the state between the upload phase and settlement.
// Not safe for concurrent use.
type Batch struct {
	coord       *Coordinator
	workspaceID string

	// pending maps acquired document ids to their source paths. It shrinks
	// monotonically as terminal events arrive; the batch settles when it
	// reaches empty.
	pending  map[string]string
	rejected []FileError
	settled  bool
}

// Pending returns the number of documents still awaiting processing.
func (b *Batch) Pending() int { return len(b.pending) }

// Rejected returns the upload requests that failed outright.
func (b *Batch) Rejected() []FileError { return b.rejected }

// UploadAll runs phase one: all files upload concurrently, bounded by the
// configured fan-out. Individual upload failures do not abort the batch;
// they are recorded and the rest proceed. Uploads are never retried.
func (c *Coordinator) UploadAll(ctx context.Context, workspaceID string, paths []string) (*Batch, error) {
	ctx, span := c.tracer.Start(ctx, "upload.batch",
		trace.WithAttributes(attribute.Int("batch.files", len(paths))))
	defer span.End()

	b := &Batch{
		coord:       c,
		workspaceID: workspaceID,
		pending:     make(map[string]string, len(paths)),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)

	for _, path := range paths {
		g.Go(func() error {
			id, err := c.uploader.UploadDocument(gctx, workspaceID, path)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.logger.Warn("upload rejected", "file", path, "error", err)
				b.rejected = append(b.rejected, FileError{Path: path, Err: err})
				return nil // partial failure is tolerated
			}
			b.pending[id] = path
			return nil
		})
	}

	// Goroutines only return nil; Wait is for completion, not errors.
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("upload phase cancelled: %w", err)
	}

	span.SetAttributes(
		attribute.Int("batch.acquired", len(b.pending)),
		attribute.Int("batch.rejected", len(b.rejected)),
	)
	c.logger.Info("upload phase finished",
		"workspace_id", workspaceID,
		"acquired", len(b.pending),
		"rejected", len(b.rejected),
	)
	return b, nil
}

// Await runs phase two and settles the batch.
//
// No notification channel is opened when nothing is pending. Otherwise one
// channel is acquired for the whole batch and released on every exit path.
// COMPLETED removes a document from the pending set; ERROR removes it and
// records the failure without aborting the rest. A dead channel or an
// expired wait settles the batch with the remainder indeterminate — a batch
// must never hang just because the backend went quiet.
//
// Await returns ErrBatchSettled if called again; settlement is terminal.
func (b *Batch) Await(ctx context.Context) (*Result, error) {
	if b.settled {
		return nil, ErrBatchSettled
	}
	b.settled = true

	c := b.coord
	ctx, span := c.tracer.Start(ctx, "upload.await",
		trace.WithAttributes(attribute.Int("batch.pending", len(b.pending))))
	defer span.End()

	result := &Result{Rejected: b.rejected}
	if len(b.pending) == 0 {
		return result, nil
	}

	ch, err := c.opener.OpenChannel(ctx)
	if err != nil {
		c.logger.Warn("notification channel unavailable, settling batch as indeterminate", "error", err)
		b.drainPending(result, fmt.Errorf("%w: %w", ErrChannelLost, err))
		return result, nil
	}
	defer func() { _ = ch.Close() }()

	timer := time.NewTimer(c.opts.ProcessingWait)
	defer timer.Stop()

	for len(b.pending) > 0 {
		select {
		case ev, ok := <-ch.Events():
			if !ok {
				err := ch.Err()
				if err == nil {
					err = errors.New("channel closed unexpectedly")
				}
				c.logger.Warn("notification channel died with documents pending",
					"pending", len(b.pending), "error", err)
				b.drainPending(result, fmt.Errorf("%w: %w", ErrChannelLost, err))
				return result, nil
			}
			b.apply(ev, result)

		case <-timer.C:
			c.logger.Warn("processing wait expired with documents pending",
				"pending", len(b.pending), "wait", c.opts.ProcessingWait)
			b.drainPending(result, ErrProcessingTimeout)
			return result, nil

		case <-ctx.Done():
			b.drainPending(result, ctx.Err())
			return result, nil
		}
	}

	span.SetAttributes(
		attribute.Int("batch.succeeded", len(result.Succeeded)),
		attribute.Int("batch.failed", len(result.Failed)),
	)
	c.logger.Info("batch settled",
		"workspace_id", b.workspaceID,
		"succeeded", len(result.Succeeded),
		"failed", len(result.Failed),
		"rejected", len(result.Rejected),
	)
	return result, nil
}

// apply folds one notification event into the result. Events for documents
// outside this batch — the channel does not pre-filter — and non-terminal
// statuses are ignored. Removal order does not matter; settlement depends
// only on the set reaching empty.
func (b *Batch) apply(ev notify.Event, result *Result) {
	path, mine := b.pending[ev.DocumentID]
	if !mine || !ev.Terminal() {
		return
	}
	delete(b.pending, ev.DocumentID)

	switch ev.Status {
	case notify.StatusCompleted:
		result.Succeeded = append(result.Succeeded, ev.DocumentID)
	case notify.StatusError:
		msg := ev.Message
		if msg == "" {
			msg = "processing failed"
		}
		b.coord.logger.Warn("document processing failed",
			"document_id", ev.DocumentID, "file", path, "reason", msg)
		result.Failed = append(result.Failed, DocumentError{
			DocumentID: ev.DocumentID,
			Path:       path,
			Err:        errors.New(msg),
		})
	}
}

// drainPending marks everything still pending with the given cause and
// empties the set, forcing settlement.
func (b *Batch) drainPending(result *Result, cause error) {
	for id, path := range b.pending {
		result.Failed = append(result.Failed, DocumentError{
			DocumentID:    id,
			Path:          path,
			Err:           cause,
			Indeterminate: true,
		})
		delete(b.pending, id)
	}
}

// Run executes both phases back to back for callers that have no use for
// the intermediate state.
func (c *Coordinator) Run(ctx context.Context, workspaceID string, paths []string) (*Result, error) {
	batch, err := c.UploadAll(ctx, workspaceID, paths)
	if err != nil {
		return nil, err
	}
	return batch.Await(ctx)
}
