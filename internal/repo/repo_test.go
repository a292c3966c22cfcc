package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"gigline/internal/db"
	"gigline/internal/domain"
	"gigline/internal/migrate"
	"gigline/internal/repo"
)

const testNow = "2026-01-01T00:00:00Z"

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func inTx(t *testing.T, r repo.Repo, fn func(tx *sql.Tx) error) {
	t.Helper()
	tx, err := r.DB.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		t.Fatalf("tx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func seedTask(t *testing.T, r repo.Repo, id string, status domain.TaskStatus) domain.Task {
	t.Helper()
	task := domain.Task{
		ID:          id,
		OwnerID:     "c1",
		Title:       "title",
		Description: "description",
		Deadline:    "2030-01-01T00:00:00Z",
		Budget:      1000,
		Status:      status,
		Version:     1,
		CreatedAt:   testNow,
		UpdatedAt:   testNow,
	}
	inTx(t, r, func(tx *sql.Tx) error {
		return r.InsertTask(context.Background(), tx, task)
	})
	return task
}

func seedApplication(t *testing.T, r repo.Repo, id, taskID, freelancerID string, status domain.ApplicationStatus) domain.Application {
	t.Helper()
	a := domain.Application{
		ID:           id,
		TaskID:       taskID,
		FreelancerID: freelancerID,
		Status:       status,
		CreatedAt:    testNow,
		UpdatedAt:    testNow,
	}
	inTx(t, r, func(tx *sql.Tx) error {
		return r.InsertApplication(context.Background(), tx, a)
	})
	return a
}

func TestTransitionTaskStaleVersion(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	task := seedTask(t, r, "t1", domain.TaskOpen)

	inTx(t, r, func(tx *sql.Tx) error {
		return r.TransitionTask(ctx, tx, task.ID, domain.TaskOpen, 1, domain.TaskCancelled, repo.TaskPatch{UpdatedAt: testNow})
	})

	// Same expected version again: the row moved on, so the guard must trip.
	tx, err := r.DB.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	err = r.TransitionTask(ctx, tx, task.ID, domain.TaskOpen, 1, domain.TaskAssigned, repo.TaskPatch{UpdatedAt: testNow})
	var stale repo.StaleStateError
	if !errors.As(err, &stale) {
		t.Fatalf("expected StaleStateError, got %v", err)
	}

	got, err := r.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.TaskCancelled || got.Version != 2 {
		t.Fatalf("unexpected row after stale write: %+v", got)
	}
}

func TestTransitionTaskStaleStatus(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	task := seedTask(t, r, "t1", domain.TaskDraft)

	tx, err := r.DB.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	err = r.TransitionTask(ctx, tx, task.ID, domain.TaskOpen, 1, domain.TaskAssigned, repo.TaskPatch{UpdatedAt: testNow})
	var stale repo.StaleStateError
	if !errors.As(err, &stale) {
		t.Fatalf("expected StaleStateError, got %v", err)
	}
}

func TestTransitionTaskPatchAndVersionBump(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	task := seedTask(t, r, "t1", domain.TaskOpen)
	assignee := "f1"

	inTx(t, r, func(tx *sql.Tx) error {
		return r.TransitionTask(ctx, tx, task.ID, domain.TaskOpen, 1, domain.TaskAssigned, repo.TaskPatch{
			AssignedFreelancerID: &assignee,
			UpdatedAt:            "2026-01-02T00:00:00Z",
		})
	})

	got, err := r.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.TaskAssigned || got.Version != 2 {
		t.Fatalf("unexpected task: %+v", got)
	}
	if got.AssignedFreelancerID == nil || *got.AssignedFreelancerID != "f1" {
		t.Fatalf("assignee not set: %+v", got.AssignedFreelancerID)
	}
	if got.UpdatedAt != "2026-01-02T00:00:00Z" {
		t.Fatalf("updated_at not written: %s", got.UpdatedAt)
	}

	inTx(t, r, func(tx *sql.Tx) error {
		return r.TransitionTask(ctx, tx, task.ID, domain.TaskAssigned, 2, domain.TaskCancelled, repo.TaskPatch{
			ClearAssignee: true,
			UpdatedAt:     "2026-01-03T00:00:00Z",
		})
	})
	got, err = r.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AssignedFreelancerID != nil {
		t.Fatalf("assignee not cleared: %v", *got.AssignedFreelancerID)
	}
}

func TestHasActiveApplication(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	seedTask(t, r, "t1", domain.TaskOpen)

	cases := []struct {
		id     string
		status domain.ApplicationStatus
		active bool
	}{
		{"a1", domain.ApplicationPending, true},
		{"a2", domain.ApplicationAccepted, true},
		{"a3", domain.ApplicationRejected, false},
		{"a4", domain.ApplicationWithdrawn, false},
	}
	for i, tc := range cases {
		freelancer := "f-" + tc.id
		seedApplication(t, r, tc.id, "t1", freelancer, tc.status)
		inTx(t, r, func(tx *sql.Tx) error {
			active, err := r.HasActiveApplication(ctx, tx, "t1", freelancer)
			if err != nil {
				return err
			}
			if active != tc.active {
				t.Fatalf("case %d (%s): active=%v, want %v", i, tc.status, active, tc.active)
			}
			return nil
		})
	}
}

func TestRejectPendingSiblings(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	seedTask(t, r, "t1", domain.TaskOpen)
	seedApplication(t, r, "a1", "t1", "f1", domain.ApplicationPending)
	seedApplication(t, r, "a2", "t1", "f2", domain.ApplicationPending)
	seedApplication(t, r, "a3", "t1", "f3", domain.ApplicationWithdrawn)

	var rejected int64
	inTx(t, r, func(tx *sql.Tx) error {
		n, err := r.RejectPendingSiblingsTx(ctx, tx, "t1", "a1", testNow)
		rejected = n
		return err
	})
	if rejected != 1 {
		t.Fatalf("rejected %d siblings, want 1", rejected)
	}

	a1, _ := r.GetApplication(ctx, "a1")
	a2, _ := r.GetApplication(ctx, "a2")
	a3, _ := r.GetApplication(ctx, "a3")
	if a1.Status != domain.ApplicationPending {
		t.Fatalf("excepted application touched: %s", a1.Status)
	}
	if a2.Status != domain.ApplicationRejected {
		t.Fatalf("sibling not rejected: %s", a2.Status)
	}
	if a3.Status != domain.ApplicationWithdrawn {
		t.Fatalf("withdrawn sibling touched: %s", a3.Status)
	}
}

func TestUpdateApplicationStatusGuardsExpected(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	seedTask(t, r, "t1", domain.TaskOpen)
	seedApplication(t, r, "a1", "t1", "f1", domain.ApplicationWithdrawn)

	tx, err := r.DB.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	err = r.UpdateApplicationStatusTx(ctx, tx, "a1", domain.ApplicationPending, domain.ApplicationAccepted, testNow)
	var stale repo.StaleStateError
	if !errors.As(err, &stale) {
		t.Fatalf("expected StaleStateError, got %v", err)
	}
}

func TestCountAccepted(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	seedTask(t, r, "t1", domain.TaskOpen)
	seedApplication(t, r, "a1", "t1", "f1", domain.ApplicationAccepted)
	seedApplication(t, r, "a2", "t1", "f2", domain.ApplicationRejected)

	inTx(t, r, func(tx *sql.Tx) error {
		n, err := r.CountAcceptedTx(ctx, tx, "t1")
		if err != nil {
			return err
		}
		if n != 1 {
			t.Fatalf("accepted=%d, want 1", n)
		}
		return nil
	})
}

func TestGetTaskNotFound(t *testing.T) {
	r := newRepo(t)
	_, err := r.GetTask(context.Background(), "missing")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
