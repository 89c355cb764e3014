// Package provision sequences workspace creation: create the container,
// upload the attached files, wait for background processing, then hand off
// to navigation.
//
// The orchestrator runs in its own goroutine and reports progress as events
// on a channel consumed by the UI update loop; it owns no UI state itself.
package provision

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/alcovehq/alcove/internal/api"
	"github.com/alcovehq/alcove/internal/log"
	"github.com/alcovehq/alcove/internal/upload"
)

// Phase is the provisioning state machine.
// ERROR is reachable from any non-terminal phase; DONE and ERROR are
// terminal.
type Phase int

// Provisioning phases.
const (
	PhaseIdle Phase = iota
	PhaseCreating
	PhaseUploading
	PhaseProcessing
	PhaseDone
	PhaseError
)

// String implements fmt.Stringer.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCreating:
		return "creating"
	case PhaseUploading:
		return "uploading"
	case PhaseProcessing:
		return "processing"
	case PhaseDone:
		return "done"
	case PhaseError:
		return "error"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Terminal reports whether the phase ends the run.
func (p Phase) Terminal() bool { return p == PhaseDone || p == PhaseError }

// WorkspaceCreator is the slice of the backend client the orchestrator
// needs for container creation.
type WorkspaceCreator interface {
	CreateWorkspace(ctx context.Context, req api.CreateWorkspaceRequest) (*api.Workspace, error)
}

// Request describes one provisioning run.
type Request struct {
	Name         string
	Description  string
	Instructions string
	Files        []string
}

// Event is one progress report. Workspace is set from the moment creation
// succeeds; Result is set on DONE; Err is set on ERROR.
type Event struct {
	Phase     Phase
	Workspace *api.Workspace
	Result    *upload.Result
	Err       error
}

// Orchestrator drives provisioning runs. Stateless between runs; each Run
// is independent.
type Orchestrator struct {
	creator WorkspaceCreator
	batches *upload.Coordinator
	logger  log.Logger
	tracer  trace.Tracer
}

// New creates a provisioning orchestrator.
func New(creator WorkspaceCreator, batches *upload.Coordinator, logger log.Logger) (*Orchestrator, error) {
	if creator == nil {
		return nil, errors.New("provision.New: workspace creator is required")
	}
	if batches == nil {
		return nil, errors.New("provision.New: upload coordinator is required")
	}
	if logger == nil {
		return nil, errors.New("provision.New: logger is required")
	}
	return &Orchestrator{
		creator: creator,
		batches: batches,
		logger:  logger,
		tracer:  otel.Tracer("alcove/provision"),
	}, nil
}

// eventBuffer keeps the run goroutine from blocking on a slow UI; a run
// emits at most one event per phase transition.
const eventBuffer = 8

// Run starts a provisioning run and returns its event stream. The channel
// closes after the terminal event.
//
// Cancellation: ctx covers creation and the upload phase. Once the run
// enters PROCESSING the uploaded documents already have server-side effects
// that cannot be unwound, so that phase is detached from ctx and bounded by
// the coordinator's processing wait instead.
func (o *Orchestrator) Run(ctx context.Context, req Request) <-chan Event {
	events := make(chan Event, eventBuffer)

	go func() {
		defer close(events)
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("provisioning panic recovered", "panic", r)
				events <- Event{Phase: PhaseError, Err: fmt.Errorf("provisioning panic: %v", r)}
			}
		}()
		o.run(ctx, req, events)
	}()

	return events
}

func (o *Orchestrator) run(ctx context.Context, req Request, events chan<- Event) {
	ctx, span := o.tracer.Start(ctx, "provision.workspace",
		trace.WithAttributes(attribute.Int("provision.files", len(req.Files))))
	defer span.End()

	events <- Event{Phase: PhaseCreating}

	ws, err := o.creator.CreateWorkspace(ctx, api.CreateWorkspaceRequest{
		Name:         req.Name,
		Description:  req.Description,
		Instructions: req.Instructions,
	})
	if err != nil {
		// Container creation failure is fatal; nothing exists to clean up.
		o.logger.Error("workspace creation failed", "name", req.Name, "error", err)
		events <- Event{Phase: PhaseError, Err: err}
		return
	}
	span.SetAttributes(attribute.String("workspace.id", ws.ID))

	events <- Event{Phase: PhaseUploading, Workspace: ws}

	batch, err := o.batches.UploadAll(ctx, ws.ID, req.Files)
	if err != nil {
		events <- Event{Phase: PhaseError, Workspace: ws, Err: err}
		return
	}

	if batch.Pending() > 0 {
		events <- Event{Phase: PhaseProcessing, Workspace: ws}
	}

	// Await settles immediately for an empty pending set, so the zero-file
	// run skips straight to DONE without opening a channel.
	result, err := batch.Await(context.WithoutCancel(ctx))
	if err != nil {
		events <- Event{Phase: PhaseError, Workspace: ws, Err: err}
		return
	}

	o.logger.Info("workspace provisioned",
		"workspace_id", ws.ID,
		"succeeded", len(result.Succeeded),
		"failed", len(result.Failed),
		"rejected", len(result.Rejected),
	)
	events <- Event{Phase: PhaseDone, Workspace: ws, Result: result}
}
