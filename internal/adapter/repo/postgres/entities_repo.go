package postgres

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/baker-compliant-ai/bakerbroker/internal/domain"
)

// UpsertUserIfAbsent ensures a user row exists, keyed by AzureID when set
// (the external identity the out-of-scope auth collaborator provides),
// otherwise by ID. Grounded on uploads_repo.go's Create (uuid-on-empty-ID)
// combined with results_repo.go's ON CONFLICT upsert shape.
func (s *Store) UpsertUserIfAbsent(ctx domain.Context, u domain.User) (string, error) {
	tracer := otel.Tracer("repo.entities")
	ctx, span := tracer.Start(ctx, "entities.UpsertUserIfAbsent")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "users"))

	id := u.ID
	if id == "" {
		id = uuid.New().String()
	}
	q := `INSERT INTO users (id, azure_id, name, role, created_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO NOTHING
		RETURNING id`
	row := s.Pool.QueryRow(ctx, q, id, nullIfEmpty(u.AzureID), u.Name, u.Role, time.Now().UTC())
	var returnedID string
	if err := row.Scan(&returnedID); err != nil {
		if err == pgx.ErrNoRows {
			// Row already existed; look it up by azure_id (preferred) or id.
			return s.findExistingUserID(ctx, u)
		}
		return "", fmt.Errorf("op=user.upsert: %w", err)
	}
	return returnedID, nil
}

func (s *Store) findExistingUserID(ctx domain.Context, u domain.User) (string, error) {
	var q string
	var arg string
	if u.AzureID != "" {
		q = `SELECT id FROM users WHERE azure_id=$1`
		arg = u.AzureID
	} else {
		q = `SELECT id FROM users WHERE id=$1`
		arg = u.ID
	}
	row := s.Pool.QueryRow(ctx, q, arg)
	var id string
	if err := row.Scan(&id); err != nil {
		return "", fmt.Errorf("op=user.find_existing: %w", err)
	}
	return id, nil
}

// UpsertCustomGPTIfAbsent ensures a custom GPT persona row exists.
func (s *Store) UpsertCustomGPTIfAbsent(ctx domain.Context, g domain.CustomGPT) (string, error) {
	tracer := otel.Tracer("repo.entities")
	ctx, span := tracer.Start(ctx, "entities.UpsertCustomGPTIfAbsent")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "custom_gpts"))

	id := g.ID
	if id == "" {
		id = uuid.New().String()
	}
	q := `INSERT INTO custom_gpts (id, name, specialization, system_prompt, tools_enabled, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO NOTHING`
	_, err := s.Pool.Exec(ctx, q, id, g.Name, g.Specialization, g.SystemPrompt, g.ToolsEnabled, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("op=customgpt.upsert: %w", err)
	}
	return id, nil
}

// GetCustomGPT fetches the persona a queue row is addressed to.
func (s *Store) GetCustomGPT(ctx domain.Context, id string) (domain.CustomGPT, error) {
	tracer := otel.Tracer("repo.entities")
	ctx, span := tracer.Start(ctx, "entities.GetCustomGPT")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "custom_gpts"))

	q := `SELECT id, name, specialization, system_prompt, tools_enabled, created_at FROM custom_gpts WHERE id=$1`
	row := s.Pool.QueryRow(ctx, q, id)
	var g domain.CustomGPT
	if err := row.Scan(&g.ID, &g.Name, &g.Specialization, &g.SystemPrompt, &g.ToolsEnabled, &g.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.CustomGPT{}, fmt.Errorf("op=customgpt.get: %w", domain.ErrNotFound)
		}
		return domain.CustomGPT{}, fmt.Errorf("op=customgpt.get: %w", err)
	}
	return g, nil
}

// UpsertThreadIfAbsent ensures a thread row exists.
func (s *Store) UpsertThreadIfAbsent(ctx domain.Context, t domain.Thread) (string, error) {
	tracer := otel.Tracer("repo.entities")
	ctx, span := tracer.Start(ctx, "entities.UpsertThreadIfAbsent")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "threads"))

	id := t.ID
	if id == "" {
		id = uuid.New().String()
	}
	q := `INSERT INTO threads (id, user_id, custom_gpt_id, title, created_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO NOTHING`
	_, err := s.Pool.Exec(ctx, q, id, t.UserID, t.CustomGPTID, t.Title, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("op=thread.upsert: %w", err)
	}
	return id, nil
}

// InsertMessage appends a message to a thread. Unlike the ensure-style
// upserts above, this always inserts: every call represents one genuinely
// new conversation turn.
func (s *Store) InsertMessage(ctx domain.Context, m domain.Message) (string, error) {
	tracer := otel.Tracer("repo.entities")
	ctx, span := tracer.Start(ctx, "entities.InsertMessage")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "messages"))

	id := m.ID
	if id == "" {
		id = uuid.New().String()
	}
	q := `INSERT INTO messages (id, thread_id, role, content, model_used, processing_time_ms, compliance_flags, sec_compliant, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err := s.Pool.Exec(ctx, q, id, m.ThreadID, m.Role, m.Content, m.ModelUsed, m.ProcessingTimeMS, m.ComplianceFlags, m.SecCompliant, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("op=message.insert: %w: %w", domain.ErrSideEffect, err)
	}
	return id, nil
}

// RecordAudit appends one row to the compliance audit stream (spec.md §6),
// supplementing the distillation which names the stream but never gives it
// a store (see original_source's log_queue_operation-style logging calls).
func (s *Store) RecordAudit(ctx domain.Context, action, userID, requestID string, status domain.ComplianceStatus, details string) error {
	tracer := otel.Tracer("repo.entities")
	ctx, span := tracer.Start(ctx, "entities.RecordAudit")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "compliance_audit_log"))

	q := `INSERT INTO compliance_audit_log (id, ts, action, user_id, request_id, compliance_status, details)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := s.Pool.Exec(ctx, q, uuid.New().String(), time.Now().UTC(), action, userID, requestID, string(status), details)
	if err != nil {
		return fmt.Errorf("op=audit.record: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
