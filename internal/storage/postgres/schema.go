package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/renderinc/helpdesk-search/internal/storage"
)

// Configs maps the supported search languages to PostgreSQL text search configurations
var Configs = map[string]string{
	"pt": "portuguese",
	"en": "english",
}

// searchVector is the derived full-text vector; the GIN index and every query use this exact expression
func searchVector(config string) string {
	return fmt.Sprintf(`to_tsvector('%s', coalesce(title, '') || ' ' || coalesce(content, ''))`, config)
}

func createSchema(config string) string {
	return `
CREATE TABLE documents (
	id          BIGSERIAL PRIMARY KEY,
	title       TEXT NOT NULL CHECK (length(btrim(title)) > 0),
	slug        TEXT,
	category    TEXT,
	description TEXT,
	content     TEXT,
	keywords    TEXT[],
	difficulty  TEXT,
	url         TEXT NOT NULL,
	scraped_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT documents_slug_key UNIQUE (slug),
	CONSTRAINT documents_url_key UNIQUE (url)
);

CREATE INDEX idx_documents_search ON documents USING GIN (` + searchVector(config) + `);
CREATE INDEX idx_documents_keywords ON documents USING GIN (keywords);
CREATE INDEX idx_documents_category ON documents (category);

CREATE OR REPLACE FUNCTION documents_touch_updated_at() RETURNS TRIGGER AS $$
BEGIN
	NEW.updated_at = GREATEST(clock_timestamp(), OLD.updated_at + interval '1 microsecond');
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

CREATE TRIGGER documents_updated_at
	BEFORE UPDATE ON documents
	FOR EACH ROW EXECUTE FUNCTION documents_touch_updated_at();
`
}

const dropSchema = `DROP TABLE IF EXISTS documents CASCADE`

const urlConstraintQuery = `
SELECT EXISTS (
	SELECT 1 FROM information_schema.table_constraints
	WHERE table_schema = current_schema()
	  AND table_name = 'documents'
	  AND constraint_type = 'UNIQUE'
	  AND constraint_name = 'documents_url_key'
)`

// TableExists reports whether the documents table exists in the current schema
func (d *DB) TableExists(ctx context.Context) (bool, error) {
	var exists bool
	err := d.pool.QueryRow(ctx, "SELECT to_regclass('documents') IS NOT NULL").Scan(&exists)
	if err != nil {
		return false, storage.Unavailable("check table", err)
	}
	return exists, nil
}

// EnsureSchema creates the documents table if it doesn't exist. A table without the
// documents_url_key constraint is a legacy layout: it is dropped with all its rows and recreated.
func (d *DB) EnsureSchema(ctx context.Context) (storage.SchemaResult, error) {
	exists, err := d.TableExists(ctx)
	if err != nil {
		return storage.SchemaUnchanged, err
	}

	if !exists {
		d.log.Info("Creating documents table")
		if err := d.recreate(ctx); err != nil {
			return storage.SchemaUnchanged, err
		}
		return storage.SchemaCreated, nil
	}

	var current bool
	if err := d.pool.QueryRow(ctx, urlConstraintQuery).Scan(&current); err != nil {
		return storage.SchemaUnchanged, storage.Unavailable("check url constraint", err)
	}
	if current {
		return storage.SchemaUnchanged, nil
	}

	d.log.Warn("Legacy documents layout detected, dropping and recreating table (existing rows are lost)")
	if err := d.recreate(ctx); err != nil {
		return storage.SchemaUnchanged, err
	}
	return storage.SchemaRecreated, nil
}

func (d *DB) recreate(ctx context.Context) error {
	err := pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, dropSchema); err != nil {
			return fmt.Errorf("drop schema: %w", err)
		}
		if _, err := tx.Exec(ctx, createSchema(d.config)); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		return nil
	})
	if err != nil {
		return storage.Unavailable("recreate schema", err)
	}
	return nil
}
