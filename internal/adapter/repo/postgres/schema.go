package postgres

import (
	"context"
	"fmt"
)

// schemaDDL is the idempotent bootstrap script for every table this store
// needs. The retrieved copy of the teacher repo carries no migration
// framework or .sql files, so this follows original_source/database/
// init_database.py's single-script approach translated to Postgres.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	azure_id TEXT UNIQUE,
	name TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS custom_gpts (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	specialization TEXT NOT NULL DEFAULT 'general',
	system_prompt TEXT NOT NULL DEFAULT '',
	tools_enabled TEXT[] NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS threads (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id),
	custom_gpt_id TEXT NOT NULL REFERENCES custom_gpts(id),
	title TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	thread_id TEXT NOT NULL REFERENCES threads(id),
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	model_used TEXT NOT NULL DEFAULT '',
	processing_time_ms BIGINT NOT NULL DEFAULT 0,
	compliance_flags TEXT[] NOT NULL DEFAULT '{}',
	sec_compliant BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS inference_queue (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	custom_gpt_id TEXT NOT NULL,
	thread_id TEXT NOT NULL,
	request_type TEXT NOT NULL,
	input_data JSONB NOT NULL,
	priority INT NOT NULL DEFAULT 5,
	status TEXT NOT NULL DEFAULT 'pending',
	retry_count INT NOT NULL DEFAULT 0,
	response_content TEXT NOT NULL DEFAULT '',
	response_metadata JSONB,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_inference_queue_claim
	ON inference_queue (status, priority, created_at);

CREATE TABLE IF NOT EXISTS compliance_audit_log (
	id TEXT PRIMARY KEY,
	ts TIMESTAMPTZ NOT NULL DEFAULT now(),
	action TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT '',
	request_id TEXT NOT NULL DEFAULT '',
	compliance_status TEXT NOT NULL DEFAULT '',
	details TEXT NOT NULL DEFAULT ''
);
`

// EnsureSchema applies schemaDDL. It is safe to call on every process start.
func EnsureSchema(ctx context.Context, pool PgxPool) error {
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("op=schema.ensure: %w", err)
	}
	return nil
}
