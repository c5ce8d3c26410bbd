// Package store keeps the history of dispatched content units in Postgres.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

//go:embed schema.sql
var schemaSQL string

// Unit statuses persisted by the dispatcher.
const (
	StatusPublished = "published"
	StatusDryRun    = "dry_run"
	StatusPartial   = "partial"
)

var ErrUnavailable = errors.New("post store unavailable")

// Record is one dispatched unit. ReplyIDs may be shorter than Replies when a
// reply failed to publish.
type Record struct {
	ID           string    `json:"id"`
	RunID        string    `json:"run_id"`
	SlotIndex    int       `json:"slot_index"`
	Status       string    `json:"status"`
	TopicName    string    `json:"topic_name"`
	TopicAddress string    `json:"topic_address"`
	Primary      string    `json:"primary"`
	PrimaryID    string    `json:"primary_id,omitempty"`
	Replies      []string  `json:"replies"`
	ReplyIDs     []string  `json:"reply_ids"`
	CreatedAt    time.Time `json:"created_at"`
}

type PostStore interface {
	Save(ctx context.Context, record Record) (Record, error)
	CountToday(ctx context.Context) (int, error)
	ListRecent(ctx context.Context, limit int) ([]Record, error)
}

type SQLPostStore struct {
	db *sql.DB
}

func NewPostStore(db *sql.DB) *SQLPostStore {
	return &SQLPostStore{db: db}
}

// EnsureSchema creates the schema and table when missing.
func (s *SQLPostStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrUnavailable
	}
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *SQLPostStore) Save(ctx context.Context, record Record) (Record, error) {
	if s == nil || s.db == nil {
		return Record{}, ErrUnavailable
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Status == "" {
		record.Status = StatusPublished
	}
	if record.Replies == nil {
		record.Replies = []string{}
	}
	if record.ReplyIDs == nil {
		record.ReplyIDs = []string{}
	}

	repliesJSON, err := json.Marshal(record.Replies)
	if err != nil {
		return Record{}, fmt.Errorf("encode replies: %w", err)
	}
	replyIDsJSON, err := json.Marshal(record.ReplyIDs)
	if err != nil {
		return Record{}, fmt.Errorf("encode reply ids: %w", err)
	}

	var primaryID sql.NullString
	if record.PrimaryID != "" {
		primaryID = sql.NullString{String: record.PrimaryID, Valid: true}
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO bosun.bosun_units (
			id,
			run_id,
			slot_index,
			status,
			topic_name,
			topic_address,
			primary_text,
			primary_post_id,
			replies,
			reply_post_ids,
			created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		RETURNING created_at
	`,
		record.ID,
		record.RunID,
		record.SlotIndex,
		record.Status,
		record.TopicName,
		record.TopicAddress,
		record.Primary,
		primaryID,
		repliesJSON,
		replyIDsJSON,
	).Scan(&record.CreatedAt)
	if err != nil {
		return Record{}, fmt.Errorf("insert unit: %w", err)
	}
	return record, nil
}

// CountToday counts units whose primary reached the platform since UTC
// midnight.
func (s *SQLPostStore) CountToday(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrUnavailable
	}

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM bosun.bosun_units
		WHERE status IN ('published', 'partial')
		AND created_at >= (date_trunc('day', now() AT TIME ZONE 'UTC') AT TIME ZONE 'UTC')
	`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count today units: %w", err)
	}
	return count, nil
}

func (s *SQLPostStore) ListRecent(ctx context.Context, limit int) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrUnavailable
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id,
			run_id,
			slot_index,
			status,
			topic_name,
			topic_address,
			primary_text,
			primary_post_id,
			replies,
			reply_post_ids,
			created_at
		FROM bosun.bosun_units
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent units: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate units: %w", err)
	}
	return records, nil
}

type recordScanner interface {
	Scan(dest ...any) error
}

func scanRecord(s recordScanner) (Record, error) {
	var r Record
	var primaryID sql.NullString
	var repliesJSON, replyIDsJSON []byte
	if err := s.Scan(
		&r.ID,
		&r.RunID,
		&r.SlotIndex,
		&r.Status,
		&r.TopicName,
		&r.TopicAddress,
		&r.Primary,
		&primaryID,
		&repliesJSON,
		&replyIDsJSON,
		&r.CreatedAt,
	); err != nil {
		return Record{}, fmt.Errorf("scan unit: %w", err)
	}
	if primaryID.Valid {
		r.PrimaryID = primaryID.String
	}
	if len(repliesJSON) > 0 {
		if err := json.Unmarshal(repliesJSON, &r.Replies); err != nil {
			return Record{}, fmt.Errorf("decode replies: %w", err)
		}
	}
	if len(replyIDsJSON) > 0 {
		if err := json.Unmarshal(replyIDsJSON, &r.ReplyIDs); err != nil {
			return Record{}, fmt.Errorf("decode reply ids: %w", err)
		}
	}
	return r, nil
}
