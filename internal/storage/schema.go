package storage

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// nowMicros is the current time in unix microseconds, the unit of scraped_at and updated_at
const nowMicros = `CAST((julianday('now') - 2440587.5) * 86400000000 AS INTEGER)`

// createSchema is the expected layout. The named url constraint is the version marker.
const createSchema = `
CREATE TABLE documents (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	title       TEXT NOT NULL CHECK (length(trim(title)) > 0),
	slug        TEXT,
	category    TEXT,
	description TEXT,
	content     TEXT,
	keywords    TEXT,
	difficulty  TEXT,
	url         TEXT NOT NULL,
	scraped_at  INTEGER NOT NULL DEFAULT (` + nowMicros + `),
	updated_at  INTEGER NOT NULL DEFAULT (` + nowMicros + `),
	CONSTRAINT documents_slug_key UNIQUE (slug),
	CONSTRAINT documents_url_key UNIQUE (url)
);

CREATE INDEX idx_documents_category ON documents(category);
CREATE INDEX idx_documents_updated ON documents(updated_at);

-- Set-containment index over keywords, derived from the JSON column
CREATE TABLE document_keywords (
	document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	keyword     TEXT NOT NULL,
	PRIMARY KEY (document_id, keyword)
);
CREATE INDEX idx_document_keywords_keyword ON document_keywords(keyword);

-- updated_at strictly increases on every mutation, even within one clock tick
CREATE TRIGGER documents_updated_at AFTER UPDATE ON documents FOR EACH ROW
BEGIN
	UPDATE documents SET updated_at = MAX(` + nowMicros + `, OLD.updated_at + 1) WHERE id = NEW.id;
END;

CREATE TRIGGER documents_keywords_ai AFTER INSERT ON documents FOR EACH ROW
BEGIN
	INSERT OR IGNORE INTO document_keywords (document_id, keyword)
	SELECT NEW.id, value FROM json_each(COALESCE(NEW.keywords, '[]'));
END;

CREATE TRIGGER documents_keywords_au AFTER UPDATE OF keywords ON documents FOR EACH ROW
BEGIN
	DELETE FROM document_keywords WHERE document_id = OLD.id;
	INSERT OR IGNORE INTO document_keywords (document_id, keyword)
	SELECT NEW.id, value FROM json_each(COALESCE(NEW.keywords, '[]'));
END;
`

const dropSchema = `
DROP TABLE IF EXISTS document_keywords;
DROP TABLE IF EXISTS documents;
`

// urlConstraintQuery counts single-column UNIQUE constraints on documents(url)
const urlConstraintQuery = `
SELECT COUNT(*) FROM pragma_index_list('documents') AS il
WHERE il."unique" = 1
  AND il.origin = 'u'
  AND (SELECT COUNT(*) FROM pragma_index_info(il.name)) = 1
  AND (SELECT name FROM pragma_index_info(il.name)) = 'url'
`

// TableExists reports whether the documents table exists
func (d *DB) TableExists(ctx context.Context) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'documents'").Scan(&n)
	if err != nil {
		return false, Unavailable("check table", err)
	}
	return n > 0, nil
}

// EnsureSchema creates the documents table if it doesn't exist. A table without the url
// uniqueness constraint is a legacy layout: it is dropped with all its rows and recreated.
// The derived text index is reset with the table, and rebuilt when it drifted from it.
func (d *DB) EnsureSchema(ctx context.Context) (SchemaResult, error) {
	exists, err := d.TableExists(ctx)
	if err != nil {
		return SchemaUnchanged, err
	}

	if !exists {
		d.log.Info("Creating documents table")
		if err := d.recreate(ctx); err != nil {
			return SchemaUnchanged, err
		}
		return SchemaCreated, nil
	}

	var n int
	if err := d.db.QueryRowContext(ctx, urlConstraintQuery).Scan(&n); err != nil {
		return SchemaUnchanged, Unavailable("check url constraint", err)
	}

	if n > 0 {
		if err := d.checkIndex(ctx); err != nil {
			return SchemaUnchanged, err
		}
		return SchemaUnchanged, nil
	}

	d.log.Warn("Legacy documents layout detected, dropping and recreating table (existing rows are lost)")
	if err := d.recreate(ctx); err != nil {
		return SchemaUnchanged, err
	}
	return SchemaRecreated, nil
}

func (d *DB) recreate(ctx context.Context) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return Unavailable("begin schema", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, dropSchema); err != nil {
		return Unavailable("drop schema", err)
	}
	if _, err := tx.ExecContext(ctx, createSchema); err != nil {
		return Unavailable("create schema", err)
	}
	if err := tx.Commit(); err != nil {
		return Unavailable("commit schema", err)
	}

	if err := d.index.Reset(); err != nil {
		return Unavailable("reset index", err)
	}
	return nil
}

// checkIndex rebuilds the derived index when its size no longer matches the table
func (d *DB) checkIndex(ctx context.Context) error {
	rows, err := d.Count(ctx)
	if err != nil {
		return err
	}
	indexed, err := d.index.Count()
	if err != nil {
		return Unavailable("count index", err)
	}
	if uint64(rows) == indexed {
		return nil
	}

	d.log.WithFields(logrus.Fields{"rows": rows, "indexed": indexed}).Warn("Text index out of date, rebuilding")
	if err := d.Reindex(ctx, nil); err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	return nil
}
