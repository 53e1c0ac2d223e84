package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"loan-portfolio-engine/internal/models"
)

const loanColumns = `
	loan_id, borrower_id, borrower_name, employer_name, contact_destination,
	principal_balance, installment_amount, interest_rate, term_months, amount_due_to_catch_up,
	disbursement_date, payment_form, payment_period, recurring_due_day,
	days_overdue, overdue_installment_count, risk_category, cutoff_date, handled`

// ReplaceResult summarizes a portfolio replace.
type ReplaceResult struct {
	Upserted int   `json:"upserted"`
	Removed  int64 `json:"removed"`
}

// LoanRepository handles loan database operations.
type LoanRepository struct {
	db *DB
}

// NewLoanRepository creates a new loan repository.
func NewLoanRepository(db *DB) *LoanRepository {
	return &LoanRepository{db: db}
}

// GetAll retrieves the whole portfolio, most overdue first.
func (r *LoanRepository) GetAll(ctx context.Context) ([]models.LoanRecord, error) {
	query := `SELECT ` + loanColumns + `
		FROM loans
		ORDER BY days_overdue DESC, loan_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query loans: %w", err)
	}
	defer rows.Close()

	loans := make([]models.LoanRecord, 0)
	for rows.Next() {
		var l models.LoanRecord
		var paymentForm, paymentPeriod, category string

		if err := rows.Scan(
			&l.LoanID,
			&l.BorrowerID,
			&l.BorrowerName,
			&l.EmployerName,
			&l.ContactDestination,
			&l.PrincipalBalance,
			&l.InstallmentAmount,
			&l.InterestRate,
			&l.TermMonths,
			&l.AmountDueToCatchUp,
			&l.DisbursementDate,
			&paymentForm,
			&paymentPeriod,
			&l.RecurringDueDay,
			&l.DaysOverdue,
			&l.OverdueInstallmentCount,
			&category,
			&l.CutoffDate,
			&l.Handled,
		); err != nil {
			return nil, fmt.Errorf("failed to scan loan: %w", err)
		}

		l.PaymentForm = models.PaymentForm(paymentForm)
		l.PaymentPeriod = models.PaymentPeriod(paymentPeriod)
		l.RiskCategory = models.RiskCategory(category)
		loans = append(loans, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate loans: %w", err)
	}

	return loans, nil
}

// ReplaceAll makes the loans table mirror the batch: rows are upserted by loan id
// and loans absent from the batch are deleted, all in one transaction. The
// handled flag of existing loans is left untouched.
func (r *LoanRepository) ReplaceAll(ctx context.Context, loans []models.LoanRecord) (*ReplaceResult, error) {
	result := &ReplaceResult{}
	now := time.Now().UTC()

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		ids := make([]string, 0, len(loans))

		for i := range loans {
			l := &loans[i]
			ids = append(ids, l.LoanID)
			batch.Queue(`
				INSERT INTO loans (`+loanColumns+`, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, false, $19, $19)
				ON CONFLICT (loan_id) DO UPDATE SET
					borrower_id = EXCLUDED.borrower_id,
					borrower_name = EXCLUDED.borrower_name,
					employer_name = EXCLUDED.employer_name,
					contact_destination = EXCLUDED.contact_destination,
					principal_balance = EXCLUDED.principal_balance,
					installment_amount = EXCLUDED.installment_amount,
					interest_rate = EXCLUDED.interest_rate,
					term_months = EXCLUDED.term_months,
					amount_due_to_catch_up = EXCLUDED.amount_due_to_catch_up,
					disbursement_date = EXCLUDED.disbursement_date,
					payment_form = EXCLUDED.payment_form,
					payment_period = EXCLUDED.payment_period,
					recurring_due_day = EXCLUDED.recurring_due_day,
					days_overdue = EXCLUDED.days_overdue,
					overdue_installment_count = EXCLUDED.overdue_installment_count,
					risk_category = EXCLUDED.risk_category,
					cutoff_date = EXCLUDED.cutoff_date,
					updated_at = EXCLUDED.updated_at`,
				l.LoanID,
				l.BorrowerID,
				l.BorrowerName,
				l.EmployerName,
				l.ContactDestination,
				l.PrincipalBalance,
				l.InstallmentAmount,
				l.InterestRate,
				l.TermMonths,
				l.AmountDueToCatchUp,
				l.DisbursementDate,
				string(l.PaymentForm),
				string(l.PaymentPeriod),
				l.RecurringDueDay,
				l.DaysOverdue,
				l.OverdueInstallmentCount,
				string(l.RiskCategory),
				l.CutoffDate,
				now,
			)
		}

		br := tx.SendBatch(ctx, batch)
		for i := range loans {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("failed to upsert loan %s: %w", loans[i].LoanID, err)
			}
			result.Upserted++
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("failed to close upsert batch: %w", err)
		}

		tag, err := tx.Exec(ctx, `DELETE FROM loans WHERE NOT (loan_id = ANY($1))`, ids)
		if err != nil {
			return fmt.Errorf("failed to prune loans: %w", err)
		}
		result.Removed = tag.RowsAffected()
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("replace portfolio failed: %w", err)
	}

	return result, nil
}

// SetHandled updates the follow-up flag of one loan.
func (r *LoanRepository) SetHandled(ctx context.Context, loanID string, handled bool) error {
	query := `UPDATE loans SET handled = $2, updated_at = $3 WHERE loan_id = $1`

	affected, err := r.db.ExecContext(ctx, query, loanID, handled, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update loan %s: %w", loanID, err)
	}
	if affected == 0 {
		return models.ErrLoanNotFound
	}

	return nil
}
