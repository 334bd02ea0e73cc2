package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

func (s *SQLiteStore) UpsertContact(ctx context.Context, contact *Contact) error {
	tagsJSON, err := json.Marshal(contact.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO contacts (owner_id, email, status, company, tags, lifetime_sent, lifetime_opened, lifetime_clicked)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_id, email) DO UPDATE SET
			status = excluded.status,
			company = excluded.company,
			tags = excluded.tags,
			lifetime_sent = excluded.lifetime_sent,
			lifetime_opened = excluded.lifetime_opened,
			lifetime_clicked = excluded.lifetime_clicked
	`, contact.OwnerID, contact.Email, contact.Status, contact.Company, string(tagsJSON),
		contact.LifetimeSent, contact.LifetimeOpened, contact.LifetimeClicked)
	if err != nil {
		return fmt.Errorf("failed to upsert contact: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListActiveContacts(ctx context.Context, ownerID string) ([]*Contact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT owner_id, email, status, company, tags, lifetime_sent, lifetime_opened, lifetime_clicked
		 FROM contacts WHERE owner_id = ? AND status = 'active' ORDER BY email`, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	return collectContacts(rows)
}

func (s *SQLiteStore) LookupContacts(ctx context.Context, ownerID string, emails []string) ([]*Contact, error) {
	if len(emails) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(emails)), ",")
	args := make([]any, 0, len(emails)+1)
	args = append(args, ownerID)
	for _, e := range emails {
		args = append(args, e)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT owner_id, email, status, company, tags, lifetime_sent, lifetime_opened, lifetime_clicked
		 FROM contacts WHERE owner_id = ? AND email IN (`+placeholders+`)`, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup contacts: %w", err)
	}
	defer rows.Close()

	return collectContacts(rows)
}

func collectContacts(rows *sql.Rows) ([]*Contact, error) {
	var contacts []*Contact
	for rows.Next() {
		var c Contact
		var company, tagsJSON sql.NullString
		err := rows.Scan(&c.OwnerID, &c.Email, &c.Status, &company, &tagsJSON,
			&c.LifetimeSent, &c.LifetimeOpened, &c.LifetimeClicked)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		c.Company = company.String
		if tagsJSON.Valid && tagsJSON.String != "" {
			if err := json.Unmarshal([]byte(tagsJSON.String), &c.Tags); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
			}
		}
		contacts = append(contacts, &c)
	}
	return contacts, rows.Err()
}

func (s *SQLiteStore) CreateInsight(ctx context.Context, insight *Insight) error {
	var dataJSON sql.NullString
	if len(insight.Data) > 0 {
		b, err := json.Marshal(insight.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal insight data: %w", err)
		}
		dataJSON = sql.NullString{String: string(b), Valid: true}
	}

	now := time.Now().Unix()
	insight.CreatedAt = time.Unix(now, 0)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO insights (id, experiment_id, type, description, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		insight.ID, insight.ExperimentID, insight.Type, insight.Description, dataJSON, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert insight: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListInsights(ctx context.Context, experimentID string) ([]*Insight, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, experiment_id, type, description, data, created_at
		 FROM insights WHERE experiment_id = ? ORDER BY created_at DESC, id`, experimentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list insights: %w", err)
	}
	defer rows.Close()

	var insights []*Insight
	for rows.Next() {
		var in Insight
		var dataJSON sql.NullString
		var createdAt int64
		if err := rows.Scan(&in.ID, &in.ExperimentID, &in.Type, &in.Description, &dataJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan insight: %w", err)
		}
		if dataJSON.Valid && dataJSON.String != "" {
			if err := json.Unmarshal([]byte(dataJSON.String), &in.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal insight data: %w", err)
			}
		}
		in.CreatedAt = time.Unix(createdAt, 0)
		insights = append(insights, &in)
	}
	return insights, rows.Err()
}

// CreateCampaign writes the rollout campaign and its queue entries in one
// transaction so the handoff artifact is all-or-nothing.
func (s *SQLiteStore) CreateCampaign(ctx context.Context, campaign *Campaign, recipients []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	campaign.CreatedAt = time.Unix(now, 0)
	campaign.RecipientCount = len(recipients)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO campaigns (id, experiment_id, variant_id, subject, body, from_name, from_email, recipient_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		campaign.ID, campaign.ExperimentID, campaign.VariantID, campaign.Subject, campaign.Body,
		campaign.FromName, campaign.FromEmail, len(recipients), now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert campaign: %w", err)
	}

	for _, r := range recipients {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO email_queue (campaign_id, recipient, status, created_at) VALUES (?, ?, 'queued', ?)`,
			campaign.ID, r, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert queue entry: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetCampaignByExperiment(ctx context.Context, experimentID string) (*Campaign, error) {
	var c Campaign
	var body, fromName, fromEmail sql.NullString
	var createdAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT id, experiment_id, variant_id, subject, body, from_name, from_email, recipient_count, created_at
		 FROM campaigns WHERE experiment_id = ? ORDER BY created_at LIMIT 1`, experimentID,
	).Scan(&c.ID, &c.ExperimentID, &c.VariantID, &c.Subject, &body, &fromName, &fromEmail, &c.RecipientCount, &createdAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	c.Body = body.String
	c.FromName = fromName.String
	c.FromEmail = fromEmail.String
	c.CreatedAt = time.Unix(createdAt, 0)
	return &c, nil
}

func (s *SQLiteStore) ListQueueEntries(ctx context.Context, campaignID string) ([]*QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, campaign_id, recipient, status, created_at
		 FROM email_queue WHERE campaign_id = ? ORDER BY id`, campaignID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue entries: %w", err)
	}
	defer rows.Close()

	var entries []*QueueEntry
	for rows.Next() {
		var q QueueEntry
		var createdAt int64
		if err := rows.Scan(&q.ID, &q.CampaignID, &q.Recipient, &q.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		q.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, &q)
	}
	return entries, rows.Err()
}
