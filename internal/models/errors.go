// Package models defines the data structures for the loan portfolio engine.
package models

import (
	"errors"
	"strings"
)

// Common errors
var (
	ErrEmptyExtract    = errors.New("extract has no data rows")
	ErrNoLoanRecords   = errors.New("extract has no rows with a loan id")
	ErrStoreWrite      = errors.New("save failed")
	ErrLoanNotFound    = errors.New("loan not found")
	ErrActionNotFound  = errors.New("collection action not found")
	ErrEmptyLoanID     = errors.New("loan_id cannot be empty")
	ErrInvalidChannel  = errors.New("invalid collection channel")
	ErrInvalidOutcome  = errors.New("invalid collection outcome")
	ErrNegativeAmount  = errors.New("committed amount cannot be negative")
	ErrUnsupportedFile = errors.New("unsupported extract file type")
	ErrUnknownReport   = errors.New("unknown report")
)

// ValidateCollectionActionInput validates a collector's submission and resolves its enums.
func ValidateCollectionActionInput(in *CollectionActionInput) (Channel, Outcome, error) {
	if strings.TrimSpace(in.LoanID) == "" {
		return "", "", ErrEmptyLoanID
	}

	channel, err := ParseChannel(in.Channel)
	if err != nil {
		return "", "", err
	}

	outcome, err := ParseOutcome(in.Outcome)
	if err != nil {
		return "", "", err
	}

	if in.CommittedAmount != nil && in.CommittedAmount.IsNegative() {
		return "", "", ErrNegativeAmount
	}

	return channel, outcome, nil
}
