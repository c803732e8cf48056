// Package store persists the mutation audit log: one row per write the
// remote endpoint accepted, so field operations stay traceable even after
// the working sets are rebuilt.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AuditEntry struct {
	ID            string          `json:"id"`
	Operation     string          `json:"operation"`
	DocumentKey   string          `json:"documentKey"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	RemoteMessage string          `json:"remoteMessage"`
	Actor         string          `json:"actor"`
	CreatedAt     time.Time       `json:"createdAt"`
}

type AuditStore struct {
	db *sql.DB
}

func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *AuditStore) Insert(ctx context.Context, entry AuditEntry) (AuditEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	const insert = `
		INSERT INTO mutation_audit (id, operation, document_key, payload, remote_message, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	payload := entry.Payload
	if payload == nil {
		payload = json.RawMessage("null")
	}
	if _, err := s.db.ExecContext(ctx, insert,
		entry.ID, entry.Operation, entry.DocumentKey, payload, entry.RemoteMessage, entry.Actor, entry.CreatedAt,
	); err != nil {
		return AuditEntry{}, fmt.Errorf("insert audit entry: %w", err)
	}
	return entry, nil
}

// ListByDocument returns the newest audit entries for one document.
func (s *AuditStore) ListByDocument(ctx context.Context, documentKey string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	const list = `
		SELECT id, operation, document_key, payload, remote_message, actor, created_at
		FROM mutation_audit
		WHERE document_key = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, list, documentKey, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var entry AuditEntry
		if err := rows.Scan(&entry.ID, &entry.Operation, &entry.DocumentKey, &entry.Payload,
			&entry.RemoteMessage, &entry.Actor, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
