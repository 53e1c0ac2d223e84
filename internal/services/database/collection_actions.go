package database

import (
	"context"
	"fmt"
	"time"

	"loan-portfolio-engine/internal/models"
)

const actionColumns = `
	id, loan_id, borrower_id_snapshot, borrower_name_snapshot, action_date, channel, outcome,
	commitment_date, committed_amount, notes, agent_name, created_at, updated_at`

// CollectionActionRepository handles collection ledger database operations.
type CollectionActionRepository struct {
	db *DB
}

// NewCollectionActionRepository creates a new collection action repository.
func NewCollectionActionRepository(db *DB) *CollectionActionRepository {
	return &CollectionActionRepository{db: db}
}

// GetAll retrieves the whole ledger, newest first.
func (r *CollectionActionRepository) GetAll(ctx context.Context) ([]models.CollectionAction, error) {
	query := `SELECT ` + actionColumns + `
		FROM collection_actions
		ORDER BY action_date DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection actions: %w", err)
	}
	defer rows.Close()

	actions := make([]models.CollectionAction, 0)
	for rows.Next() {
		var a models.CollectionAction
		var channel, outcome string

		if err := rows.Scan(
			&a.ID,
			&a.LoanID,
			&a.BorrowerIDSnapshot,
			&a.BorrowerNameSnapshot,
			&a.ActionDate,
			&channel,
			&outcome,
			&a.CommitmentDate,
			&a.CommittedAmount,
			&a.Notes,
			&a.AgentName,
			&a.CreatedAt,
			&a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan collection action: %w", err)
		}

		a.Channel = models.Channel(channel)
		a.Outcome = models.Outcome(outcome)
		actions = append(actions, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate collection actions: %w", err)
	}

	return actions, nil
}

// Create inserts a collection action and fills in its generated id and timestamps.
func (r *CollectionActionRepository) Create(ctx context.Context, a *models.CollectionAction) (int64, error) {
	query := `
		INSERT INTO collection_actions (
			loan_id, borrower_id_snapshot, borrower_name_snapshot, action_date, channel, outcome,
			commitment_date, committed_amount, notes, agent_name, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		RETURNING id`

	now := time.Now().UTC()

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		a.LoanID,
		a.BorrowerIDSnapshot,
		a.BorrowerNameSnapshot,
		a.ActionDate,
		string(a.Channel),
		string(a.Outcome),
		a.CommitmentDate,
		a.CommittedAmount,
		a.Notes,
		a.AgentName,
		now,
	).Scan(&id)

	if err != nil {
		return 0, fmt.Errorf("failed to create collection action: %w", err)
	}

	a.ID = id
	a.CreatedAt = now
	a.UpdatedAt = now
	return id, nil
}

// Update overwrites the editable fields of an existing action.
func (r *CollectionActionRepository) Update(ctx context.Context, a *models.CollectionAction) error {
	query := `
		UPDATE collection_actions SET
			loan_id = $2,
			borrower_id_snapshot = $3,
			borrower_name_snapshot = $4,
			action_date = $5,
			channel = $6,
			outcome = $7,
			commitment_date = $8,
			committed_amount = $9,
			notes = $10,
			agent_name = $11,
			updated_at = $12
		WHERE id = $1`

	now := time.Now().UTC()

	affected, err := r.db.ExecContext(ctx, query,
		a.ID,
		a.LoanID,
		a.BorrowerIDSnapshot,
		a.BorrowerNameSnapshot,
		a.ActionDate,
		string(a.Channel),
		string(a.Outcome),
		a.CommitmentDate,
		a.CommittedAmount,
		a.Notes,
		a.AgentName,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to update collection action %d: %w", a.ID, err)
	}
	if affected == 0 {
		return models.ErrActionNotFound
	}

	a.UpdatedAt = now
	return nil
}

// Delete removes an action by id.
func (r *CollectionActionRepository) Delete(ctx context.Context, id int64) error {
	affected, err := r.db.ExecContext(ctx, `DELETE FROM collection_actions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete collection action %d: %w", id, err)
	}
	if affected == 0 {
		return models.ErrActionNotFound
	}
	return nil
}
