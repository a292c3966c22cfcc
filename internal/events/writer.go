package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written to the journal. Collaborators subscribe via webhooks;
// delivery never rolls back the transition that produced the event.
const (
	TaskCreated             = "task.created"
	TaskUpdated             = "task.updated"
	TaskPublished           = "task.published"
	TaskCancelled           = "task.cancelled"
	TaskAssigned            = "task.assigned"
	TaskCompleted           = "task.completed"
	TaskRevisionRequested   = "task.revision_requested"
	TaskWorkStarted         = "task.work_started"
	WorkSubmitted           = "work.submitted"
	ApplicationSubmitted    = "application.submitted"
	ApplicationWithdrawn    = "application.withdrawn"
	ApplicationAccepted     = "application.accepted"
	ApplicationRejected     = "application.rejected"
	PaymentReleaseRequested = "payment.release_requested"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append records an event inside the caller's transaction so the journal row
// commits atomically with the state change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
