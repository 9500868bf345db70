package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	id "credline/pkg/domain"
	audit "credline/pkg/platform/audit"
	txcontext "credline/pkg/platform/tx"
)

// Store implements audit.Store on the ledger_events table, which doubles as
// the transactional outbox: rows are written in the same transaction as the
// state change and relayed to Kafka by the outbox worker.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL event store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Append writes an event to the log inside the caller's transaction.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	attrs, err := json.Marshal(event.Attributes)
	if err != nil {
		return fmt.Errorf("marshal event attributes: %w", err)
	}
	query := `
		INSERT INTO ledger_events (
			id, type, category, component, subject, actor,
			occurred_at, request_id, attributes
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		event.ID,
		string(event.Type),
		string(event.Category),
		string(event.Component),
		string(event.Subject),
		string(event.Actor),
		event.Timestamp,
		event.RequestID,
		attrs,
	)
	if err != nil {
		return fmt.Errorf("insert ledger event: %w", err)
	}
	return nil
}

const selectColumns = `
	SELECT seq, id, type, category, component, subject, actor,
		   occurred_at, request_id, attributes
	FROM ledger_events
`

// ListBySubject returns a subject's events in commit order.
func (s *Store) ListBySubject(ctx context.Context, subject id.Address) ([]audit.Event, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, selectColumns+`WHERE subject = $1 ORDER BY seq`, string(subject))
	if err != nil {
		return nil, fmt.Errorf("query ledger events: %w", err)
	}
	defer rows.Close()

	records, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	return events(records), nil
}

// ListRecent returns the N most recent events, oldest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	query := `SELECT * FROM (` + selectColumns + `ORDER BY seq DESC LIMIT $1) recent ORDER BY seq`
	rows, err := s.execer(ctx).QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query ledger events: %w", err)
	}
	defer rows.Close()

	records, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	return events(records), nil
}

// OutboxRecord is an unpublished event together with its log position.
type OutboxRecord struct {
	Seq   int64
	Event audit.Event
}

// ListUnpublished returns up to limit events not yet relayed, in commit order.
func (s *Store) ListUnpublished(ctx context.Context, limit int) ([]OutboxRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+`WHERE published_at IS NULL ORDER BY seq LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// MarkPublished stamps relayed events.
func (s *Store) MarkPublished(ctx context.Context, seqs []int64, at time.Time) error {
	if len(seqs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE ledger_events SET published_at = $1 WHERE seq = ANY($2)`,
		at, pq.Array(seqs),
	)
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

func scanEvents(rows *sql.Rows) ([]OutboxRecord, error) {
	var out []OutboxRecord
	for rows.Next() {
		var (
			rec       OutboxRecord
			eventID   uuid.UUID
			typ       string
			category  string
			component string
			subject   string
			actor     string
			attrs     []byte
		)
		if err := rows.Scan(
			&rec.Seq,
			&eventID,
			&typ,
			&category,
			&component,
			&subject,
			&actor,
			&rec.Event.Timestamp,
			&rec.Event.RequestID,
			&attrs,
		); err != nil {
			return nil, fmt.Errorf("scan ledger event: %w", err)
		}
		rec.Event.ID = eventID
		rec.Event.Type = audit.EventType(typ)
		rec.Event.Category = audit.EventCategory(category)
		rec.Event.Component = audit.Component(component)
		rec.Event.Subject = id.Address(subject)
		rec.Event.Actor = id.Address(actor)
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &rec.Event.Attributes); err != nil {
				return nil, fmt.Errorf("unmarshal event attributes: %w", err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger events: %w", err)
	}
	return out, nil
}

func events(records []OutboxRecord) []audit.Event {
	out := make([]audit.Event, 0, len(records))
	for _, r := range records {
		out = append(out, r.Event)
	}
	return out
}
