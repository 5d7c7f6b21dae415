package db

import "fmt"

const currentVersion = 3

func (d *DB) migrate() error {
	// Create migrations table if it doesn't exist
	if _, err := d.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	var version int
	err := d.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return fmt.Errorf("getting schema version: %w", err)
	}

	migrations := []func(*DB) error{
		migrateV1,
		migrateV2,
		migrateV3,
	}

	for i := version; i < len(migrations); i++ {
		if err := migrations[i](d); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := d.Exec("INSERT INTO schema_migrations (version) VALUES (?)", i+1); err != nil {
			return fmt.Errorf("recording migration %d: %w", i+1, err)
		}
	}

	return nil
}

// SchemaVersion returns the highest applied migration.
func (d *DB) SchemaVersion() (int, error) {
	var version int
	if err := d.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return 0, fmt.Errorf("getting schema version: %w", err)
	}
	return version, nil
}

func execAll(d *DB, statements []string) error {
	for _, stmt := range statements {
		if _, err := d.Exec(stmt); err != nil {
			head := stmt
			if len(head) > 50 {
				head = head[:50]
			}
			return fmt.Errorf("executing %q: %w", head, err)
		}
	}
	return nil
}

func migrateV1(d *DB) error {
	return execAll(d, []string{
		`CREATE TABLE mods (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			version TEXT NOT NULL,
			author TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			icon TEXT NOT NULL DEFAULT '',
			size INTEGER NOT NULL DEFAULT 0,
			state INTEGER NOT NULL DEFAULT 0 CHECK (state IN (0, 1, 2)),
			categories TEXT NOT NULL DEFAULT '[]',
			download_url TEXT NOT NULL DEFAULT '',
			website_url TEXT NOT NULL DEFAULT '',
			rating REAL,
			downloads INTEGER,
			last_updated TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT 'local',
			previous_version TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE mod_dependencies (
			mod_id TEXT NOT NULL REFERENCES mods(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			dependency_id TEXT NOT NULL,
			min_version TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (mod_id, dependency_id)
		)`,
		`CREATE INDEX idx_mod_dependencies_dependency ON mod_dependencies(dependency_id)`,
		`CREATE TABLE profiles (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			icon TEXT NOT NULL DEFAULT '',
			color TEXT NOT NULL DEFAULT '',
			created TEXT NOT NULL,
			last_used TEXT,
			play_time INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE profile_mods (
			profile_id TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
			mod_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			PRIMARY KEY (profile_id, mod_id)
		)`,
		`CREATE TABLE app_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE auth_tokens (
			source_id TEXT PRIMARY KEY,
			token_data BLOB,
			expires_at DATETIME,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	})
}

func migrateV2(d *DB) error {
	// Backup index; archives live on disk.
	return execAll(d, []string{
		`CREATE TABLE backups (
			id TEXT PRIMARY KEY,
			description TEXT NOT NULL DEFAULT '',
			created TEXT NOT NULL,
			path TEXT NOT NULL,
			size INTEGER NOT NULL DEFAULT 0,
			reason TEXT NOT NULL DEFAULT 'manual'
		)`,
		`CREATE INDEX idx_backups_created ON backups(created)`,
	})
}

func migrateV3(d *DB) error {
	// Result of the latest update check, consumed by update-all.
	return execAll(d, []string{
		`CREATE TABLE update_plan (
			mod_id TEXT PRIMARY KEY,
			current_version TEXT NOT NULL,
			available_version TEXT NOT NULL,
			source TEXT NOT NULL,
			download_url TEXT NOT NULL DEFAULT '',
			checked_at TEXT NOT NULL
		)`,
	})
}
