package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"gigline/internal/config"
	"gigline/internal/domain"
	"gigline/internal/engine/guard"
	"gigline/internal/events"
	"gigline/internal/identity"
	"gigline/internal/repo"
)

// Engine is the lifecycle orchestrator: it composes the identity resolver,
// the guard, and the store into externally callable operations. It is the
// only writer of status fields; every operation runs in one transaction and
// the commit is the sole point of observable state change.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Identity identity.Resolver
	Events   events.Writer
	Config   *config.Config
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:       db,
		Repo:     r,
		Identity: identity.Resolver{Repo: r},
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

// principal resolves the acting account fresh; roles are never cached across
// calls.
func (e Engine) principal(ctx context.Context, actorID string) (domain.Principal, error) {
	return e.Identity.Resolve(ctx, actorID)
}

func taskResource(t domain.Task) guard.Resource {
	res := guard.Resource{
		TaskOwnerID: t.OwnerID,
		TaskStatus:  t.Status,
	}
	if t.AssignedFreelancerID != nil {
		res.AssignedFreelancerID = *t.AssignedFreelancerID
	}
	return res
}

// ensureTaskEdge validates an edge of the task state machine. Terminal
// states have no outbound edges.
func ensureTaskEdge(from, to domain.TaskStatus) error {
	switch from {
	case domain.TaskDraft:
		if to == domain.TaskOpen {
			return nil
		}
	case domain.TaskOpen:
		if to == domain.TaskAssigned || to == domain.TaskCancelled {
			return nil
		}
	case domain.TaskAssigned:
		if to == domain.TaskInProgress || to == domain.TaskCancelled {
			return nil
		}
	case domain.TaskInProgress:
		if to == domain.TaskSubmitted || to == domain.TaskCancelled {
			return nil
		}
	case domain.TaskSubmitted:
		if to == domain.TaskCompleted || to == domain.TaskInProgress {
			return nil
		}
	}
	return InvalidTransitionError{Entity: "task", From: string(from), To: string(to)}
}

type CreateTaskOptions struct {
	ID          string
	ActorID     string
	Title       string
	Description string
	Deadline    string
	Budget      int64
}

func (e Engine) validateTaskFields(title, description, deadline string, budget int64) error {
	limits := config.Limits{MinTitleLen: 1}
	if e.Config != nil {
		limits = e.Config.Limits
	}
	title = strings.TrimSpace(title)
	if len(title) < limits.MinTitleLen {
		return ValidationError{Field: "title", Reason: fmt.Sprintf("at least %d characters required", limits.MinTitleLen)}
	}
	if limits.MaxTitleLen > 0 && len(title) > limits.MaxTitleLen {
		return ValidationError{Field: "title", Reason: fmt.Sprintf("at most %d characters allowed", limits.MaxTitleLen)}
	}
	if strings.TrimSpace(description) == "" {
		return ValidationError{Field: "description", Reason: "required"}
	}
	if limits.MaxDescriptionLen > 0 && len(description) > limits.MaxDescriptionLen {
		return ValidationError{Field: "description", Reason: fmt.Sprintf("at most %d characters allowed", limits.MaxDescriptionLen)}
	}
	dl, err := time.Parse(time.RFC3339, deadline)
	if err != nil {
		return ValidationError{Field: "deadline", Reason: "must be RFC3339"}
	}
	if !dl.After(e.now()) {
		return ValidationError{Field: "deadline", Reason: "must be in the future"}
	}
	if budget <= 0 {
		return ValidationError{Field: "budget", Reason: "must be positive"}
	}
	if limits.MaxBudget > 0 && budget > limits.MaxBudget {
		return ValidationError{Field: "budget", Reason: fmt.Sprintf("at most %d allowed", limits.MaxBudget)}
	}
	return nil
}

// CreateTask creates a draft task owned by the calling client.
func (e Engine) CreateTask(ctx context.Context, opts CreateTaskOptions) (domain.Task, error) {
	p, err := e.principal(ctx, opts.ActorID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := guard.Require(p, guard.CreateTask, guard.Resource{TaskOwnerID: p.ID}); err != nil {
		return domain.Task{}, err
	}
	if err := e.validateTaskFields(opts.Title, opts.Description, opts.Deadline, opts.Budget); err != nil {
		return domain.Task{}, err
	}
	now := e.nowString()
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	t := domain.Task{
		ID:          id,
		OwnerID:     p.ID,
		Title:       strings.TrimSpace(opts.Title),
		Description: opts.Description,
		Deadline:    opts.Deadline,
		Budget:      opts.Budget,
		Status:      domain.TaskDraft,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TaskCreated, "task", t.ID, p.ID, events.EventPayload{"title": t.Title, "status": t.Status}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

type EditTaskOptions struct {
	ActorID     string
	TaskID      string
	Title       *string
	Description *string
	Deadline    *string
	Budget      *int64
}

// EditTask updates task fields while the task is still draft or open. The
// version bump makes the edit visible to racing writers.
func (e Engine) EditTask(ctx context.Context, opts EditTaskOptions) (domain.Task, error) {
	p, err := e.principal(ctx, opts.ActorID)
	if err != nil {
		return domain.Task{}, err
	}
	t, err := e.Repo.GetTask(ctx, opts.TaskID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := guard.Require(p, guard.EditTask, taskResource(t)); err != nil {
		return t, err
	}
	if t.Status != domain.TaskDraft && t.Status != domain.TaskOpen {
		return t, guard.DeniedError{Action: guard.EditTask, Reason: guard.ReasonInvalidState}
	}
	title := t.Title
	if opts.Title != nil {
		title = *opts.Title
	}
	description := t.Description
	if opts.Description != nil {
		description = *opts.Description
	}
	deadline := t.Deadline
	if opts.Deadline != nil {
		deadline = *opts.Deadline
	}
	budget := t.Budget
	if opts.Budget != nil {
		budget = *opts.Budget
	}
	if err := e.validateTaskFields(title, description, deadline, budget); err != nil {
		return t, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	now := e.nowString()
	patch := repo.TaskPatch{
		Title:       &title,
		Description: &description,
		Deadline:    &deadline,
		Budget:      &budget,
		UpdatedAt:   now,
	}
	if err := e.Repo.TransitionTask(ctx, tx, t.ID, t.Status, t.Version, t.Status, patch); err != nil {
		return t, err
	}
	if err := e.Events.Append(ctx, tx, events.TaskUpdated, "task", t.ID, p.ID, events.EventPayload{"status": t.Status}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return e.Repo.GetTask(ctx, t.ID)
}

// PublishTask moves a draft to open, making it visible to freelancers.
func (e Engine) PublishTask(ctx context.Context, actorID, taskID string) (domain.Task, error) {
	return e.ownerTransition(ctx, actorID, taskID, guard.PublishTask, domain.TaskOpen, events.TaskPublished, nil)
}

// CancelTask cancels a task from any non-terminal post-draft state. The
// event payload carries the assigned freelancer, when set, so the
// notification collaborator can inform them.
func (e Engine) CancelTask(ctx context.Context, actorID, taskID string) (domain.Task, error) {
	p, err := e.principal(ctx, actorID)
	if err != nil {
		return domain.Task{}, err
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := guard.Require(p, guard.CancelTask, taskResource(t)); err != nil {
		return t, err
	}
	if err := ensureTaskEdge(t.Status, domain.TaskCancelled); err != nil {
		return t, err
	}
	payload := events.EventPayload{"from_status": t.Status}
	if t.AssignedFreelancerID != nil {
		payload["assigned_freelancer_id"] = *t.AssignedFreelancerID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	patch := repo.TaskPatch{ClearAssignee: true, UpdatedAt: e.nowString()}
	if err := e.Repo.TransitionTask(ctx, tx, t.ID, t.Status, t.Version, domain.TaskCancelled, patch); err != nil {
		return t, err
	}
	if err := e.Events.Append(ctx, tx, events.TaskCancelled, "task", t.ID, p.ID, payload); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return e.Repo.GetTask(ctx, t.ID)
}

// ownerTransition is the shared shape of single-edge owner operations.
func (e Engine) ownerTransition(ctx context.Context, actorID, taskID string, action guard.Action, to domain.TaskStatus, evtType string, payload events.EventPayload) (domain.Task, error) {
	p, err := e.principal(ctx, actorID)
	if err != nil {
		return domain.Task{}, err
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := guard.Require(p, action, taskResource(t)); err != nil {
		return t, err
	}
	if err := ensureTaskEdge(t.Status, to); err != nil {
		return t, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.TransitionTask(ctx, tx, t.ID, t.Status, t.Version, to, repo.TaskPatch{UpdatedAt: e.nowString()}); err != nil {
		return t, err
	}
	if payload == nil {
		payload = events.EventPayload{}
	}
	payload["from_status"] = t.Status
	payload["to_status"] = to
	if err := e.Events.Append(ctx, tx, evtType, "task", t.ID, p.ID, payload); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return e.Repo.GetTask(ctx, t.ID)
}

type ApplyOptions struct {
	ID             string
	ActorID        string
	TaskID         string
	Message        string
	ProposedBudget *int64
}

// Apply submits a freelancer's application against an open task.
func (e Engine) Apply(ctx context.Context, opts ApplyOptions) (domain.Application, error) {
	p, err := e.principal(ctx, opts.ActorID)
	if err != nil {
		return domain.Application{}, err
	}
	t, err := e.Repo.GetTask(ctx, opts.TaskID)
	if err != nil {
		return domain.Application{}, err
	}
	if err := guard.Require(p, guard.Apply, taskResource(t)); err != nil {
		return domain.Application{}, err
	}
	if opts.ProposedBudget != nil && *opts.ProposedBudget <= 0 {
		return domain.Application{}, ValidationError{Field: "proposed_budget", Reason: "must be positive"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Application{}, err
	}
	defer tx.Rollback()
	// Re-read inside the transaction; a concurrent cancel or accept must not
	// slip an application onto a task that just left open.
	t, err = e.Repo.GetTaskTx(ctx, tx, opts.TaskID)
	if err != nil {
		return domain.Application{}, err
	}
	if t.Status != domain.TaskOpen {
		return domain.Application{}, TaskNotOpenError{TaskID: t.ID, Status: string(t.Status)}
	}
	exists, err := e.Repo.HasActiveApplication(ctx, tx, t.ID, p.ID)
	if err != nil {
		return domain.Application{}, err
	}
	if exists {
		return domain.Application{}, DuplicateApplicationError{TaskID: t.ID, FreelancerID: p.ID}
	}
	now := e.nowString()
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	a := domain.Application{
		ID:             id,
		TaskID:         t.ID,
		FreelancerID:   p.ID,
		Message:        opts.Message,
		ProposedBudget: opts.ProposedBudget,
		Status:         domain.ApplicationPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.Repo.InsertApplication(ctx, tx, a); err != nil {
		return domain.Application{}, fmt.Errorf("insert application: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.ApplicationSubmitted, "application", a.ID, p.ID, events.EventPayload{"task_id": t.ID}); err != nil {
		return domain.Application{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Application{}, err
	}
	return a, nil
}

// WithdrawApplication retracts a pending application. Only the author may
// withdraw; a second withdraw fails with InvalidTransitionError.
func (e Engine) WithdrawApplication(ctx context.Context, actorID, applicationID string) (domain.Application, error) {
	p, err := e.principal(ctx, actorID)
	if err != nil {
		return domain.Application{}, err
	}
	a, err := e.Repo.GetApplication(ctx, applicationID)
	if err != nil {
		return domain.Application{}, err
	}
	if err := guard.Require(p, guard.WithdrawApplication, guard.Resource{ApplicationAuthorID: a.FreelancerID, ApplicationStatus: a.Status}); err != nil {
		return a, err
	}
	return e.resolveApplication(ctx, p, a, domain.ApplicationWithdrawn, events.ApplicationWithdrawn)
}

// RejectApplication lets the task owner decline a pending application.
func (e Engine) RejectApplication(ctx context.Context, actorID, applicationID string) (domain.Application, error) {
	p, a, _, err := e.ownerApplication(ctx, actorID, applicationID, guard.RejectApplication)
	if err != nil {
		return a, err
	}
	return e.resolveApplication(ctx, p, a, domain.ApplicationRejected, events.ApplicationRejected)
}

func (e Engine) ownerApplication(ctx context.Context, actorID, applicationID string, action guard.Action) (domain.Principal, domain.Application, domain.Task, error) {
	p, err := e.principal(ctx, actorID)
	if err != nil {
		return domain.Principal{}, domain.Application{}, domain.Task{}, err
	}
	a, err := e.Repo.GetApplication(ctx, applicationID)
	if err != nil {
		return p, domain.Application{}, domain.Task{}, err
	}
	t, err := e.Repo.GetTask(ctx, a.TaskID)
	if err != nil {
		return p, a, domain.Task{}, err
	}
	res := taskResource(t)
	res.ApplicationAuthorID = a.FreelancerID
	res.ApplicationStatus = a.Status
	if err := guard.Require(p, action, res); err != nil {
		return p, a, t, err
	}
	return p, a, t, nil
}

func (e Engine) resolveApplication(ctx context.Context, p domain.Principal, a domain.Application, to domain.ApplicationStatus, evtType string) (domain.Application, error) {
	if a.Status != domain.ApplicationPending {
		return a, InvalidTransitionError{Entity: "application", From: string(a.Status), To: string(to)}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()
	now := e.nowString()
	if err := e.Repo.UpdateApplicationStatusTx(ctx, tx, a.ID, domain.ApplicationPending, to, now); err != nil {
		return a, err
	}
	if err := e.Events.Append(ctx, tx, evtType, "application", a.ID, p.ID, events.EventPayload{"task_id": a.TaskID}); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	a.Status = to
	a.UpdatedAt = now
	return a, nil
}

// AcceptApplication is the single-winner assignment decision. Three effects
// commit as one unit: the application goes pending->accepted, every pending
// sibling goes to rejected, and the task goes open->assigned with the
// winner recorded. A racing accept loses on the task's version check and
// gets StaleStateError with nothing applied.
func (e Engine) AcceptApplication(ctx context.Context, actorID, applicationID string) (domain.Application, error) {
	p, a, t, err := e.ownerApplication(ctx, actorID, applicationID, guard.AcceptApplication)
	if err != nil {
		return a, err
	}
	if a.Status != domain.ApplicationPending {
		return a, InvalidTransitionError{Entity: "application", From: string(a.Status), To: string(domain.ApplicationAccepted)}
	}
	if err := ensureTaskEdge(t.Status, domain.TaskAssigned); err != nil {
		return a, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()
	now := e.nowString()
	if err := e.Repo.UpdateApplicationStatusTx(ctx, tx, a.ID, domain.ApplicationPending, domain.ApplicationAccepted, now); err != nil {
		return a, err
	}
	rejected, err := e.Repo.RejectPendingSiblingsTx(ctx, tx, t.ID, a.ID, now)
	if err != nil {
		return a, err
	}
	patch := repo.TaskPatch{AssignedFreelancerID: &a.FreelancerID, UpdatedAt: now}
	if err := e.Repo.TransitionTask(ctx, tx, t.ID, domain.TaskOpen, t.Version, domain.TaskAssigned, patch); err != nil {
		return a, err
	}
	// Fence: anything other than exactly one accepted application here means
	// the stored data already violated the single-winner invariant. Abort
	// and escalate instead of repairing silently.
	accepted, err := e.Repo.CountAcceptedTx(ctx, tx, t.ID)
	if err != nil {
		return a, err
	}
	if accepted != 1 {
		cerr := ConsistencyError{Op: "accept_application", Detail: fmt.Sprintf("task %s has %d accepted applications", t.ID, accepted)}
		log.Printf("FATAL: %v", cerr)
		return a, cerr
	}
	if err := e.Events.Append(ctx, tx, events.ApplicationAccepted, "application", a.ID, p.ID, events.EventPayload{"task_id": t.ID, "rejected_siblings": rejected}); err != nil {
		return a, err
	}
	if err := e.Events.Append(ctx, tx, events.TaskAssigned, "task", t.ID, p.ID, events.EventPayload{"freelancer_id": a.FreelancerID}); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	a.Status = domain.ApplicationAccepted
	a.UpdatedAt = now
	return a, nil
}

// StartWork moves an assigned task to in_progress; only the assigned
// freelancer may start.
func (e Engine) StartWork(ctx context.Context, actorID, taskID string) (domain.Task, error) {
	return e.assigneeTransition(ctx, actorID, taskID, guard.StartWork, domain.TaskInProgress, events.TaskWorkStarted, nil)
}

// SubmitWork records the deliverable and moves the task to submitted.
func (e Engine) SubmitWork(ctx context.Context, actorID, taskID string, deliverable map[string]any) (domain.Task, error) {
	p, err := e.principal(ctx, actorID)
	if err != nil {
		return domain.Task{}, err
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := guard.Require(p, guard.SubmitWork, taskResource(t)); err != nil {
		return t, err
	}
	if err := ensureTaskEdge(t.Status, domain.TaskSubmitted); err != nil {
		return t, err
	}
	if len(deliverable) == 0 {
		return t, ValidationError{Field: "deliverable", Reason: "required"}
	}
	raw, err := json.Marshal(deliverable)
	if err != nil {
		return t, ValidationError{Field: "deliverable", Reason: "must be a JSON object"}
	}
	deliverableJSON := string(raw)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	patch := repo.TaskPatch{DeliverableJSON: &deliverableJSON, UpdatedAt: e.nowString()}
	if err := e.Repo.TransitionTask(ctx, tx, t.ID, t.Status, t.Version, domain.TaskSubmitted, patch); err != nil {
		return t, err
	}
	if err := e.Events.Append(ctx, tx, events.WorkSubmitted, "task", t.ID, p.ID, events.EventPayload{"freelancer_id": p.ID}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return e.Repo.GetTask(ctx, t.ID)
}

func (e Engine) assigneeTransition(ctx context.Context, actorID, taskID string, action guard.Action, to domain.TaskStatus, evtType string, payload events.EventPayload) (domain.Task, error) {
	p, err := e.principal(ctx, actorID)
	if err != nil {
		return domain.Task{}, err
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := guard.Require(p, action, taskResource(t)); err != nil {
		return t, err
	}
	if err := ensureTaskEdge(t.Status, to); err != nil {
		return t, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.TransitionTask(ctx, tx, t.ID, t.Status, t.Version, to, repo.TaskPatch{UpdatedAt: e.nowString()}); err != nil {
		return t, err
	}
	if payload == nil {
		payload = events.EventPayload{}
	}
	payload["from_status"] = t.Status
	payload["to_status"] = to
	if err := e.Events.Append(ctx, tx, evtType, "task", t.ID, p.ID, payload); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return e.Repo.GetTask(ctx, t.ID)
}

// RequestRevision sends a submitted task back to in_progress.
func (e Engine) RequestRevision(ctx context.Context, actorID, taskID, note string) (domain.Task, error) {
	payload := events.EventPayload{}
	if strings.TrimSpace(note) != "" {
		payload["note"] = note
	}
	p, err := e.principal(ctx, actorID)
	if err != nil {
		return domain.Task{}, err
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := guard.Require(p, guard.ReviewSubmission, taskResource(t)); err != nil {
		return t, err
	}
	if err := ensureTaskEdge(t.Status, domain.TaskInProgress); err != nil {
		return t, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.TransitionTask(ctx, tx, t.ID, t.Status, t.Version, domain.TaskInProgress, repo.TaskPatch{UpdatedAt: e.nowString()}); err != nil {
		return t, err
	}
	payload["from_status"] = t.Status
	payload["to_status"] = domain.TaskInProgress
	if err := e.Events.Append(ctx, tx, events.TaskRevisionRequested, "task", t.ID, p.ID, payload); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return e.Repo.GetTask(ctx, t.ID)
}

// CompleteTask accepts the deliverable. Alongside task.completed the same
// transaction records payment.release_requested exactly once; payment
// itself is an external collaborator and its failure never reverts the
// completed status.
func (e Engine) CompleteTask(ctx context.Context, actorID, taskID string) (domain.Task, error) {
	p, err := e.principal(ctx, actorID)
	if err != nil {
		return domain.Task{}, err
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := guard.Require(p, guard.CompleteTask, taskResource(t)); err != nil {
		return t, err
	}
	if err := ensureTaskEdge(t.Status, domain.TaskCompleted); err != nil {
		return t, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.TransitionTask(ctx, tx, t.ID, t.Status, t.Version, domain.TaskCompleted, repo.TaskPatch{UpdatedAt: e.nowString()}); err != nil {
		return t, err
	}
	if err := e.Events.Append(ctx, tx, events.TaskCompleted, "task", t.ID, p.ID, events.EventPayload{"from_status": t.Status}); err != nil {
		return t, err
	}
	freelancerID := ""
	if t.AssignedFreelancerID != nil {
		freelancerID = *t.AssignedFreelancerID
	}
	if err := e.Events.Append(ctx, tx, events.PaymentReleaseRequested, "task", t.ID, p.ID, events.EventPayload{
		"freelancer_id": freelancerID,
		"budget":        t.Budget,
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return e.Repo.GetTask(ctx, t.ID)
}

// CheckTaskInvariant verifies that the assignee field and the status agree.
// Used by tests and the consistency check endpoint.
func (e Engine) CheckTaskInvariant(ctx context.Context, taskID string) error {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	hasAssignee := t.AssignedFreelancerID != nil && *t.AssignedFreelancerID != ""
	if t.Status.RequiresAssignee() != hasAssignee {
		return ConsistencyError{Op: "task_invariant", Detail: fmt.Sprintf("task %s status=%s assignee_set=%v", t.ID, t.Status, hasAssignee)}
	}
	return nil
}
