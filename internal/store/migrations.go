package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Settings table - application settings as key-value pairs
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		// Mode options table - detector option overrides per mode
		`CREATE TABLE IF NOT EXISTS mode_options (
			mode TEXT PRIMARY KEY,
			model_asset_path TEXT NOT NULL DEFAULT '',
			delegate TEXT NOT NULL DEFAULT '',
			max_results INTEGER NOT NULL DEFAULT 0 CHECK(max_results >= 0),
			score_threshold REAL NOT NULL DEFAULT 0 CHECK(score_threshold >= 0 AND score_threshold <= 1),
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
