package store

import (
	"database/sql"
	"errors"
	"time"
)

// ModeOptions are the stored detector option overrides for one mode. Zero
// fields mean "use the mode default".
type ModeOptions struct {
	Mode           string    `json:"mode"`
	ModelAssetPath string    `json:"model_asset_path"`
	Delegate       string    `json:"delegate"`
	MaxResults     int       `json:"max_results"`
	ScoreThreshold float64   `json:"score_threshold"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ModeOptionsRepository provides access to per-mode options.
type ModeOptionsRepository struct {
	db *sql.DB
}

// ModeOptions returns the mode options repository for this store.
func (s *Store) ModeOptions() *ModeOptionsRepository {
	return &ModeOptionsRepository{db: s.db}
}

// Get retrieves the options stored for mode.
func (r *ModeOptionsRepository) Get(mode string) (*ModeOptions, error) {
	o := &ModeOptions{}
	err := r.db.QueryRow(
		`SELECT mode, model_asset_path, delegate, max_results, score_threshold, updated_at
		 FROM mode_options WHERE mode = ?`,
		mode,
	).Scan(&o.Mode, &o.ModelAssetPath, &o.Delegate, &o.MaxResults, &o.ScoreThreshold, &o.UpdatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return o, nil
}

// Upsert creates or replaces the options for o.Mode and sets UpdatedAt.
func (r *ModeOptionsRepository) Upsert(o *ModeOptions) error {
	o.UpdatedAt = time.Now().UTC()

	_, err := r.db.Exec(
		`INSERT INTO mode_options (mode, model_asset_path, delegate, max_results, score_threshold, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(mode) DO UPDATE SET
			model_asset_path = excluded.model_asset_path,
			delegate = excluded.delegate,
			max_results = excluded.max_results,
			score_threshold = excluded.score_threshold,
			updated_at = excluded.updated_at`,
		o.Mode, o.ModelAssetPath, o.Delegate, o.MaxResults, o.ScoreThreshold, o.UpdatedAt,
	)
	return err
}

// List retrieves the options of every mode that has any, ordered by mode.
func (r *ModeOptionsRepository) List() ([]*ModeOptions, error) {
	rows, err := r.db.Query(
		`SELECT mode, model_asset_path, delegate, max_results, score_threshold, updated_at
		 FROM mode_options ORDER BY mode`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ModeOptions
	for rows.Next() {
		o := &ModeOptions{}
		if err := rows.Scan(&o.Mode, &o.ModelAssetPath, &o.Delegate, &o.MaxResults, &o.ScoreThreshold, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Delete removes the options for mode, restoring its defaults.
func (r *ModeOptionsRepository) Delete(mode string) error {
	result, err := r.db.Exec(`DELETE FROM mode_options WHERE mode = ?`, mode)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
