package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	SubmissionEnqueued = "submission.enqueued"
	SubmissionStatus   = "submission.status"
	SubmissionRemoved  = "submission.removed"
	SubmissionExported = "submission.exported"
	PriceRecorded      = "listing.price_recorded"
	IntegrityError     = "listing.integrity_error"
	AlertEmitted       = "alert.emitted"
)

// Writer appends to the events table inside the caller's transaction.
type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID string, payload EventPayload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,payload_json) VALUES (?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), evtType, entityKind, nullable(entityID), string(data))
	return err
}

// AppendDB writes a standalone event in its own transaction.
func (w Writer) AppendDB(ctx context.Context, db *sql.DB, evtType, entityKind, entityID string, payload EventPayload) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := w.Append(ctx, tx, evtType, entityKind, entityID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
