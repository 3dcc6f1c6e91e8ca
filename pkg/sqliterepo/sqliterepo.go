// Package sqliterepo is the default flow-file repository implementation
// (§4.10): a single journal table in a local SQLite database, written in
// one transaction per UpdateRepository batch so a crash mid-batch never
// leaves a partially-applied update behind.
package sqliterepo

import (
	"database/sql"
	"encoding/json"

	_ "github.com/mattn/go-sqlite3"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/flowctl/core/pkg/flowfile"
	"github.com/flowctl/core/pkg/registry"
)

const ClassName = "sqlite"

const schema = `
CREATE TABLE IF NOT EXISTS flowfile_journal (
	sequence INTEGER PRIMARY KEY,
	uuid TEXT NOT NULL,
	entry_timestamp INTEGER NOT NULL,
	lineage_start_timestamp INTEGER NOT NULL,
	queue_id TEXT,
	size INTEGER NOT NULL,
	content_container TEXT,
	content_section TEXT,
	content_identifier TEXT,
	content_offset INTEGER,
	attributes TEXT NOT NULL
);`

// Repository implements repository.FlowFileRepository against a SQLite
// file.
type Repository struct {
	path string
	db   *sql.DB
}

func init() {
	registry.RegisterPlugin(registry.FlowFileRepoPlugin, ClassName, &Repository{}, true)
}

// Configure implements registry.Plugin. Expected key: "path".
func (r *Repository) Configure(controllerID string, data map[string]interface{}) error {
	path, _ := data["path"].(string)
	if path == "" {
		path = "flowfile_journal.db"
	}
	r.path = path
	return nil
}

// Initialize opens (and creates, if absent) the journal database.
func (r *Repository) Initialize(controllerID string) error {
	db, err := sql.Open("sqlite3", r.path)
	if err != nil {
		return errors.Annotate(err, "open sqlite flowfile journal")
	}
	if _, err := db.Exec(schema); err != nil {
		return errors.Annotate(err, "create flowfile_journal schema")
	}
	r.db = db
	log.Infof("[sqliterepo] flow-file journal opened at %s", r.path)
	return nil
}

// Load replays the journal from startingID and returns the highest
// sequence number found, the watermark the controller resumes
// nextSequence() from.
func (r *Repository) Load(controllerID string, startingID int64) (int64, error) {
	row := r.db.QueryRow(`SELECT COALESCE(MAX(sequence), ?) FROM flowfile_journal WHERE sequence >= ?`, startingID, startingID)
	var maxID int64
	if err := row.Scan(&maxID); err != nil {
		return 0, errors.Annotate(err, "load flowfile journal watermark")
	}
	return maxID, nil
}

// NextSequence allocates a new monotone sequence id.
func (r *Repository) NextSequence() (int64, error) {
	row := r.db.QueryRow(`SELECT COALESCE(MAX(sequence), 0) + 1 FROM flowfile_journal`)
	var next int64
	if err := row.Scan(&next); err != nil {
		return 0, errors.Annotate(err, "allocate flowfile sequence")
	}
	return next, nil
}

// UpdateRepository writes batch in a single transaction, upserting each
// record by sequence.
func (r *Repository) UpdateRepository(batch []*flowfile.Record) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := r.db.Begin()
	if err != nil {
		return errors.Trace(err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO flowfile_journal
			(sequence, uuid, entry_timestamp, lineage_start_timestamp, queue_id, size,
			 content_container, content_section, content_identifier, content_offset, attributes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sequence) DO UPDATE SET
			queue_id=excluded.queue_id, attributes=excluded.attributes`)
	if err != nil {
		tx.Rollback()
		return errors.Trace(err)
	}
	defer stmt.Close()

	for _, rec := range batch {
		attrs, err := json.Marshal(rec.Attributes)
		if err != nil {
			tx.Rollback()
			return errors.Annotatef(err, "marshal attributes for %s", rec.UUID)
		}
		_, err = stmt.Exec(
			rec.Sequence, rec.UUID,
			rec.EntryTimestamp.UnixNano(), rec.LineageStartTimestamp.UnixNano(),
			rec.QueueID, rec.Size,
			rec.ContentClaim.Container, rec.ContentClaim.Section, rec.ContentClaim.Identifier, rec.ContentClaimOffset,
			string(attrs),
		)
		if err != nil {
			tx.Rollback()
			return errors.Annotatef(err, "upsert flowfile %s", rec.UUID)
		}
	}
	return errors.Trace(tx.Commit())
}

// IsVolatile reports whether the repository survives a restart; SQLite on
// a local filesystem does.
func (r *Repository) IsVolatile() bool { return false }

// Close releases the underlying database handle.
func (r *Repository) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}
