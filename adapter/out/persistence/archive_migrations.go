package persistence

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"

	"archive_server/pkg/apperr"
)

// =============================================================================
// Schema Migrations
// =============================================================================

type migration struct {
	version    int
	name       string
	statements []string
}

// Statements use {{BLOB}} and {{SERIAL_PK}} tokens where the two backends
// disagree; everything else is shared SQL.
var migrations = []migration{
	{
		version: 1,
		name:    "initial schema",
		statements: []string{
			`CREATE TABLE list (
				name VARCHAR(255) PRIMARY KEY,
				display_name VARCHAR(255),
				description TEXT,
				subject_prefix VARCHAR(255),
				archive_policy INTEGER NOT NULL DEFAULT 2,
				created_at TIMESTAMP
			)`,
			`CREATE TABLE "user" (
				id VARCHAR(36) PRIMARY KEY,
				created_at TIMESTAMP
			)`,
			`CREATE TABLE sender (
				email VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255),
				user_id VARCHAR(36) REFERENCES "user"(id)
			)`,
			`CREATE INDEX ix_sender_user_id ON sender(user_id)`,
			`CREATE TABLE category (
				id {{SERIAL_PK}},
				name VARCHAR(255) NOT NULL UNIQUE
			)`,
			`CREATE TABLE thread (
				list_name VARCHAR(255) NOT NULL REFERENCES list(name) ON DELETE CASCADE,
				thread_id VARCHAR(255) NOT NULL,
				date_active TIMESTAMP NOT NULL,
				subject TEXT,
				category_id INTEGER REFERENCES category(id),
				PRIMARY KEY (list_name, thread_id)
			)`,
			`CREATE INDEX ix_thread_date_active ON thread(list_name, date_active)`,
			`CREATE TABLE email (
				list_name VARCHAR(255) NOT NULL,
				message_id VARCHAR(255) NOT NULL,
				sender_email VARCHAR(255) NOT NULL REFERENCES sender(email),
				subject TEXT,
				content TEXT,
				date TIMESTAMP NOT NULL,
				timezone INTEGER NOT NULL DEFAULT 0,
				in_reply_to VARCHAR(255),
				message_id_hash VARCHAR(32) NOT NULL,
				thread_id VARCHAR(255) NOT NULL,
				archived_date TIMESTAMP NOT NULL,
				thread_depth INTEGER NOT NULL DEFAULT 0,
				thread_order INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (list_name, message_id),
				FOREIGN KEY (list_name, thread_id)
					REFERENCES thread(list_name, thread_id) ON DELETE CASCADE
			)`,
			`CREATE INDEX ix_email_list_hash ON email(list_name, message_id_hash)`,
			`CREATE INDEX ix_email_list_thread ON email(list_name, thread_id)`,
			`CREATE INDEX ix_email_list_date ON email(list_name, date)`,
			`CREATE INDEX ix_email_sender ON email(sender_email)`,
			`CREATE TABLE email_full (
				list_name VARCHAR(255) NOT NULL,
				message_id VARCHAR(255) NOT NULL,
				"full" {{BLOB}},
				PRIMARY KEY (list_name, message_id),
				FOREIGN KEY (list_name, message_id)
					REFERENCES email(list_name, message_id) ON DELETE CASCADE
			)`,
			`CREATE TABLE attachment (
				list_name VARCHAR(255) NOT NULL,
				message_id VARCHAR(255) NOT NULL,
				counter INTEGER NOT NULL,
				name VARCHAR(255),
				content_type VARCHAR(255),
				encoding VARCHAR(50),
				size INTEGER NOT NULL DEFAULT 0,
				content {{BLOB}},
				PRIMARY KEY (list_name, message_id, counter),
				FOREIGN KEY (list_name, message_id)
					REFERENCES email(list_name, message_id) ON DELETE CASCADE
			)`,
			`CREATE TABLE vote (
				list_name VARCHAR(255) NOT NULL,
				message_id VARCHAR(255) NOT NULL,
				user_id VARCHAR(36) NOT NULL REFERENCES "user"(id),
				value INTEGER NOT NULL,
				PRIMARY KEY (list_name, message_id, user_id),
				FOREIGN KEY (list_name, message_id)
					REFERENCES email(list_name, message_id) ON DELETE CASCADE
			)`,
			`CREATE INDEX ix_vote_user ON vote(user_id, list_name)`,
		},
	},
}

func latestSchemaVersion() int {
	return migrations[len(migrations)-1].version
}

func (s *Store) dialectSQL(statement string) string {
	isPostgres := s.db.DriverName() == "pgx"
	if isPostgres {
		statement = strings.ReplaceAll(statement, "{{BLOB}}", "BYTEA")
		statement = strings.ReplaceAll(statement, "{{SERIAL_PK}}", "INTEGER GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY")
	} else {
		statement = strings.ReplaceAll(statement, "{{BLOB}}", "BLOB")
		statement = strings.ReplaceAll(statement, "{{SERIAL_PK}}", "INTEGER PRIMARY KEY AUTOINCREMENT")
	}
	return statement
}

func (s *Store) currentSchemaVersion(ctx context.Context) (int, error) {
	if _, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return 0, err
	}
	var version int
	err := s.db.GetContext(ctx, &version, `SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// CheckSchemaVersion fails with SCHEMA_UPGRADE_NEEDED when pending
// migrations exist.
func (s *Store) CheckSchemaVersion(ctx context.Context) error {
	version, err := s.currentSchemaVersion(ctx)
	if err != nil {
		return err
	}
	if version < latestSchemaVersion() {
		return apperr.ErrSchemaUpgrade.
			WithDetail("current", version).
			WithDetail("wanted", latestSchemaVersion())
	}
	return nil
}

// Migrate applies pending migrations, one transaction per version. A
// "patch" table left behind by the pre-rewrite storage layer marks a
// database from before this versioning scheme; it is dropped and the
// upgrade proceeds from the recorded version.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS patch`); err != nil {
		return err
	}
	version, err := s.currentSchemaVersion(ctx)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		s.log.Info().Int("version", m.version).Str("name", m.name).Msg("applying migration")
		err := s.runTx(ctx, func(tx *sqlx.Tx) error {
			for _, statement := range m.statements {
				if _, err := tx.ExecContext(ctx, s.dialectSQL(statement)); err != nil {
					return err
				}
			}
			_, err := tx.ExecContext(ctx,
				s.rebind(`INSERT INTO schema_version (version) VALUES (?)`), m.version)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}
