package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// Repo appends attempt lifecycle events to the event_log table. The log
// is an append-only audit trail; nothing in the request path reads it.
type Repo struct{ db *sql.DB }

func NewRepo(db *sql.DB) *Repo { return &Repo{db: db} }

func (r *Repo) Append(ctx context.Context, typ, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO event_log (typ, key, data, created_at)
		 VALUES ($1,$2,$3,$4)`,
		typ, key, string(data), time.Now().Unix())
	return err
}
