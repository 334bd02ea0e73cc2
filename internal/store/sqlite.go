package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS contacts (
    owner_id TEXT NOT NULL,
    email TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'active',
    company TEXT,
    tags TEXT,
    lifetime_sent INTEGER NOT NULL DEFAULT 0,
    lifetime_opened INTEGER NOT NULL DEFAULT 0,
    lifetime_clicked INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (owner_id, email)
);

CREATE INDEX IF NOT EXISTS idx_contacts_status ON contacts(owner_id, status);

CREATE TABLE IF NOT EXISTS experiments (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    type TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'draft',
    config TEXT NOT NULL,
    winning_variant_id TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    started_at INTEGER,
    completed_at INTEGER,
    winner_declared_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_experiments_owner ON experiments(owner_id);
CREATE INDEX IF NOT EXISTS idx_experiments_status ON experiments(status);

CREATE TABLE IF NOT EXISTS variants (
    id TEXT PRIMARY KEY,
    experiment_id TEXT NOT NULL,
    name TEXT NOT NULL,
    is_control INTEGER NOT NULL DEFAULT 0,
    traffic_allocation REAL NOT NULL,
    campaign TEXT NOT NULL,
    recipients TEXT,
    position INTEGER NOT NULL,
    FOREIGN KEY (experiment_id) REFERENCES experiments(id)
);

CREATE INDEX IF NOT EXISTS idx_variants_experiment ON variants(experiment_id, position);

CREATE TABLE IF NOT EXISTS assignments (
    id TEXT PRIMARY KEY,
    experiment_id TEXT NOT NULL,
    recipient TEXT NOT NULL,
    variant_id TEXT NOT NULL,
    assigned_at INTEGER NOT NULL,
    UNIQUE (experiment_id, recipient),
    FOREIGN KEY (experiment_id) REFERENCES experiments(id)
);

CREATE INDEX IF NOT EXISTS idx_assignments_recipient ON assignments(recipient);
CREATE INDEX IF NOT EXISTS idx_assignments_variant ON assignments(experiment_id, variant_id);

CREATE TABLE IF NOT EXISTS assignment_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    assignment_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    metadata TEXT,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (assignment_id) REFERENCES assignments(id)
);

CREATE INDEX IF NOT EXISTS idx_events_assignment ON assignment_events(assignment_id);

CREATE TABLE IF NOT EXISTS results (
    id TEXT PRIMARY KEY,
    experiment_id TEXT NOT NULL,
    variant_id TEXT NOT NULL,
    metrics TEXT NOT NULL,
    rates TEXT NOT NULL,
    analysis TEXT NOT NULL,
    updated_at INTEGER NOT NULL,
    UNIQUE (experiment_id, variant_id),
    FOREIGN KEY (experiment_id) REFERENCES experiments(id)
);

CREATE TABLE IF NOT EXISTS insights (
    id TEXT PRIMARY KEY,
    experiment_id TEXT NOT NULL,
    type TEXT NOT NULL,
    description TEXT NOT NULL,
    data TEXT,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (experiment_id) REFERENCES experiments(id)
);

CREATE INDEX IF NOT EXISTS idx_insights_experiment ON insights(experiment_id);

CREATE TABLE IF NOT EXISTS campaigns (
    id TEXT PRIMARY KEY,
    experiment_id TEXT NOT NULL,
    variant_id TEXT NOT NULL,
    subject TEXT NOT NULL,
    body TEXT,
    from_name TEXT,
    from_email TEXT,
    recipient_count INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (experiment_id) REFERENCES experiments(id)
);

CREATE INDEX IF NOT EXISTS idx_campaigns_experiment ON campaigns(experiment_id);

CREATE TABLE IF NOT EXISTS email_queue (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    campaign_id TEXT NOT NULL,
    recipient TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'queued',
    created_at INTEGER NOT NULL,
    FOREIGN KEY (campaign_id) REFERENCES campaigns(id)
);

CREATE INDEX IF NOT EXISTS idx_queue_campaign ON email_queue(campaign_id);
`

func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Apply schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for health checks
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) CreateExperiment(ctx context.Context, exp *Experiment, variants []*Variant) error {
	configJSON, err := json.Marshal(exp.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	exp.CreatedAt = time.Unix(now, 0)
	exp.UpdatedAt = time.Unix(now, 0)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO experiments (id, owner_id, name, description, type, status, config, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exp.ID, exp.OwnerID, exp.Name, exp.Description, string(exp.Type), string(exp.Status), string(configJSON), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert experiment: %w", err)
	}

	for i, v := range variants {
		campaignJSON, err := json.Marshal(v.Campaign)
		if err != nil {
			return fmt.Errorf("failed to marshal campaign config: %w", err)
		}
		v.ExperimentID = exp.ID
		v.Position = i
		_, err = tx.ExecContext(ctx,
			`INSERT INTO variants (id, experiment_id, name, is_control, traffic_allocation, campaign, position)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			v.ID, exp.ID, v.Name, boolToInt(v.IsControl), v.TrafficAllocation, string(campaignJSON), i,
		)
		if err != nil {
			return fmt.Errorf("failed to insert variant: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetExperiment(ctx context.Context, id string) (*Experiment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, description, type, status, config, winning_variant_id,
		        created_at, updated_at, started_at, completed_at, winner_declared_at
		 FROM experiments WHERE id = ?`, id,
	)
	exp, err := scanExperiment(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}
	return exp, nil
}

func (s *SQLiteStore) ListExperiments(ctx context.Context, ownerID string) ([]*Experiment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, name, description, type, status, config, winning_variant_id,
		        created_at, updated_at, started_at, completed_at, winner_declared_at
		 FROM experiments WHERE owner_id = ? ORDER BY created_at DESC`, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()

	var exps []*Experiment
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan experiment: %w", err)
		}
		exps = append(exps, exp)
	}
	return exps, rows.Err()
}

func (s *SQLiteStore) UpdateExperiment(ctx context.Context, exp *Experiment) error {
	configJSON, err := json.Marshal(exp.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	now := time.Now().Unix()
	exp.UpdatedAt = time.Unix(now, 0)

	result, err := s.db.ExecContext(ctx,
		`UPDATE experiments
		 SET name = ?, description = ?, status = ?, config = ?, winning_variant_id = ?,
		     updated_at = ?, started_at = ?, completed_at = ?, winner_declared_at = ?
		 WHERE id = ?`,
		exp.Name, exp.Description, string(exp.Status), string(configJSON),
		nullableText(exp.WinningVariantID), now,
		nullableUnix(exp.StartedAt), nullableUnix(exp.CompletedAt), nullableUnix(exp.WinnerDeclaredAt),
		exp.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update experiment: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) GetVariants(ctx context.Context, experimentID string) ([]*Variant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, experiment_id, name, is_control, traffic_allocation, campaign, recipients, position
		 FROM variants WHERE experiment_id = ? ORDER BY position`, experimentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}
	defer rows.Close()

	var variants []*Variant
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan variant: %w", err)
		}
		variants = append(variants, v)
	}
	return variants, rows.Err()
}

func (s *SQLiteStore) GetVariant(ctx context.Context, id string) (*Variant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, experiment_id, name, is_control, traffic_allocation, campaign, recipients, position
		 FROM variants WHERE id = ?`, id,
	)
	v, err := scanVariant(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get variant: %w", err)
	}
	return v, nil
}

func (s *SQLiteStore) SetVariantRecipients(ctx context.Context, variantID string, recipients []string) error {
	recipientsJSON, err := json.Marshal(recipients)
	if err != nil {
		return fmt.Errorf("failed to marshal recipients: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE variants SET recipients = ? WHERE id = ?`, string(recipientsJSON), variantID,
	)
	if err != nil {
		return fmt.Errorf("failed to set variant recipients: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExperiment(row rowScanner) (*Experiment, error) {
	var exp Experiment
	var configJSON string
	var winningVariant sql.NullString
	var createdAt, updatedAt int64
	var startedAt, completedAt, winnerDeclaredAt sql.NullInt64

	err := row.Scan(&exp.ID, &exp.OwnerID, &exp.Name, &exp.Description, &exp.Type, &exp.Status,
		&configJSON, &winningVariant, &createdAt, &updatedAt, &startedAt, &completedAt, &winnerDeclaredAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(configJSON), &exp.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if winningVariant.Valid {
		exp.WinningVariantID = winningVariant.String
	}
	exp.CreatedAt = time.Unix(createdAt, 0)
	exp.UpdatedAt = time.Unix(updatedAt, 0)
	exp.StartedAt = unixPtr(startedAt)
	exp.CompletedAt = unixPtr(completedAt)
	exp.WinnerDeclaredAt = unixPtr(winnerDeclaredAt)

	return &exp, nil
}

func scanVariant(row rowScanner) (*Variant, error) {
	var v Variant
	var isControl int
	var campaignJSON string
	var recipientsJSON sql.NullString

	err := row.Scan(&v.ID, &v.ExperimentID, &v.Name, &isControl, &v.TrafficAllocation,
		&campaignJSON, &recipientsJSON, &v.Position)
	if err != nil {
		return nil, err
	}

	v.IsControl = isControl != 0
	if err := json.Unmarshal([]byte(campaignJSON), &v.Campaign); err != nil {
		return nil, fmt.Errorf("failed to unmarshal campaign config: %w", err)
	}
	if recipientsJSON.Valid && recipientsJSON.String != "" {
		if err := json.Unmarshal([]byte(recipientsJSON.String), &v.AssignedRecipients); err != nil {
			return nil, fmt.Errorf("failed to unmarshal recipients: %w", err)
		}
	}

	return &v, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableText(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func unixPtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(n.Int64, 0)
	return &t
}
