package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CreateAssignments writes a batch of assignment records, each with its
// initial "assigned" event, in one transaction so activation either fully
// lands or not at all.
func (s *SQLiteStore) CreateAssignments(ctx context.Context, assignments []*Assignment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for _, a := range assignments {
		a.AssignedAt = time.Unix(now, 0)
		_, err := tx.ExecContext(ctx,
			`INSERT INTO assignments (id, experiment_id, recipient, variant_id, assigned_at)
			 VALUES (?, ?, ?, ?, ?)`,
			a.ID, a.ExperimentID, a.Recipient, a.VariantID, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert assignment: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO assignment_events (assignment_id, event_type, created_at) VALUES (?, ?, ?)`,
			a.ID, string(EventAssigned), now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert assigned event: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetAssignment(ctx context.Context, experimentID, recipient string) (*Assignment, error) {
	var a Assignment
	var assignedAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT id, experiment_id, recipient, variant_id, assigned_at
		 FROM assignments WHERE experiment_id = ? AND recipient = ?`,
		experimentID, recipient,
	).Scan(&a.ID, &a.ExperimentID, &a.Recipient, &a.VariantID, &assignedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}

	a.AssignedAt = time.Unix(assignedAt, 0)
	return &a, nil
}

func (s *SQLiteStore) ListAssignedRecipients(ctx context.Context, experimentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT recipient FROM assignments WHERE experiment_id = ?`, experimentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list assigned recipients: %w", err)
	}
	defer rows.Close()

	var recipients []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("failed to scan recipient: %w", err)
		}
		recipients = append(recipients, r)
	}
	return recipients, rows.Err()
}

// AppendEvent adds one event row to an assignment's log. Each event is its
// own INSERT, so concurrent appends for the same recipient never clobber
// each other.
func (s *SQLiteStore) AppendEvent(ctx context.Context, assignmentID string, eventType EventType, metadata map[string]string) error {
	var metadataJSON sql.NullString
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadataJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assignment_events (assignment_id, event_type, metadata, created_at)
		 VALUES (?, ?, ?, ?)`,
		assignmentID, string(eventType), metadataJSON, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListVariantEvents(ctx context.Context, experimentID, variantID string) ([]AssignmentEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.assignment_id, e.event_type, e.metadata, e.created_at
		FROM assignment_events e
		JOIN assignments a ON a.id = e.assignment_id
		WHERE a.experiment_id = ? AND a.variant_id = ?
		ORDER BY e.id
	`, experimentID, variantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list variant events: %w", err)
	}
	defer rows.Close()

	var events []AssignmentEvent
	for rows.Next() {
		var e AssignmentEvent
		var metadataJSON sql.NullString
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.AssignmentID, &e.Type, &metadataJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		events = append(events, e)
	}
	return events, rows.Err()
}

// FindActiveAssignments is the event-ingestion hot path: one indexed query
// from recipient address to every assignment in a currently-active experiment.
func (s *SQLiteStore) FindActiveAssignments(ctx context.Context, recipient string) ([]ActiveAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.experiment_id, a.variant_id
		FROM assignments a
		JOIN experiments x ON x.id = a.experiment_id
		WHERE a.recipient = ? AND x.status = 'active'
	`, recipient)
	if err != nil {
		return nil, fmt.Errorf("failed to find active assignments: %w", err)
	}
	defer rows.Close()

	var out []ActiveAssignment
	for rows.Next() {
		var aa ActiveAssignment
		if err := rows.Scan(&aa.AssignmentID, &aa.ExperimentID, &aa.VariantID); err != nil {
			return nil, fmt.Errorf("failed to scan active assignment: %w", err)
		}
		out = append(out, aa)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateResult(ctx context.Context, res *Result) error {
	metricsJSON, ratesJSON, analysisJSON, err := marshalResult(res)
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	res.UpdatedAt = time.Unix(now, 0)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO results (id, experiment_id, variant_id, metrics, rates, analysis, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.ExperimentID, res.VariantID, metricsJSON, ratesJSON, analysisJSON, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert result: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetResult(ctx context.Context, experimentID, variantID string) (*Result, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, experiment_id, variant_id, metrics, rates, analysis, updated_at
		 FROM results WHERE experiment_id = ? AND variant_id = ?`,
		experimentID, variantID,
	)
	res, err := scanResult(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return res, nil
}

func (s *SQLiteStore) GetResults(ctx context.Context, experimentID string) ([]*Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.experiment_id, r.variant_id, r.metrics, r.rates, r.analysis, r.updated_at
		FROM results r
		JOIN variants v ON v.id = r.variant_id
		WHERE r.experiment_id = ?
		ORDER BY v.position
	`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	var results []*Result
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) UpdateResultMetrics(ctx context.Context, experimentID, variantID string, metrics VariantMetrics, rates VariantRates) error {
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}
	ratesJSON, err := json.Marshal(rates)
	if err != nil {
		return fmt.Errorf("failed to marshal rates: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE results SET metrics = ?, rates = ?, updated_at = ? WHERE experiment_id = ? AND variant_id = ?`,
		string(metricsJSON), string(ratesJSON), time.Now().Unix(), experimentID, variantID,
	)
	if err != nil {
		return fmt.Errorf("failed to update result metrics: %w", err)
	}
	return requireAffected(result)
}

// UpdateResultAnalysis overwrites the analysis fields wholesale. Repeated or
// overlapping recomputations converge to the same row.
func (s *SQLiteStore) UpdateResultAnalysis(ctx context.Context, experimentID, variantID string, analysis Analysis) error {
	analysisJSON, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE results SET analysis = ?, updated_at = ? WHERE experiment_id = ? AND variant_id = ?`,
		string(analysisJSON), time.Now().Unix(), experimentID, variantID,
	)
	if err != nil {
		return fmt.Errorf("failed to update result analysis: %w", err)
	}
	return requireAffected(result)
}

func marshalResult(res *Result) (string, string, string, error) {
	metricsJSON, err := json.Marshal(res.Metrics)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal metrics: %w", err)
	}
	ratesJSON, err := json.Marshal(res.Rates)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal rates: %w", err)
	}
	analysisJSON, err := json.Marshal(res.Analysis)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal analysis: %w", err)
	}
	return string(metricsJSON), string(ratesJSON), string(analysisJSON), nil
}

func scanResult(row rowScanner) (*Result, error) {
	var res Result
	var metricsJSON, ratesJSON, analysisJSON string
	var updatedAt int64

	err := row.Scan(&res.ID, &res.ExperimentID, &res.VariantID, &metricsJSON, &ratesJSON, &analysisJSON, &updatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(metricsJSON), &res.Metrics); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metrics: %w", err)
	}
	if err := json.Unmarshal([]byte(ratesJSON), &res.Rates); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rates: %w", err)
	}
	if err := json.Unmarshal([]byte(analysisJSON), &res.Analysis); err != nil {
		return nil, fmt.Errorf("failed to unmarshal analysis: %w", err)
	}
	res.UpdatedAt = time.Unix(updatedAt, 0)

	return &res, nil
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
