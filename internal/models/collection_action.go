// Package models defines the data structures for the loan portfolio engine.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Channel is the medium used for a collection contact.
type Channel string

const (
	ChannelPhoneCall Channel = "phone_call"
	ChannelHomeVisit Channel = "home_visit"
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelEmail     Channel = "email"
	ChannelSMS       Channel = "sms"
	ChannelLetter    Channel = "letter"
	ChannelInOffice  Channel = "in_office"
)

// channelLabels maps the labels used by the collections team to channels.
var channelLabels = map[string]Channel{
	"llamada telefónica":    ChannelPhoneCall,
	"llamada telefonica":    ChannelPhoneCall,
	"visita domiciliaria":   ChannelHomeVisit,
	"whatsapp":              ChannelWhatsApp,
	"correo electrónico":    ChannelEmail,
	"correo electronico":    ChannelEmail,
	"mensaje de texto":      ChannelSMS,
	"carta":                 ChannelLetter,
	"presencial en oficina": ChannelInOffice,
}

// ValidChannels returns all valid channel values.
func ValidChannels() []Channel {
	return []Channel{
		ChannelPhoneCall,
		ChannelHomeVisit,
		ChannelWhatsApp,
		ChannelEmail,
		ChannelSMS,
		ChannelLetter,
		ChannelInOffice,
	}
}

// IsValid checks if the channel is valid.
func (c Channel) IsValid() bool {
	for _, valid := range ValidChannels() {
		if c == valid {
			return true
		}
	}
	return false
}

// ParseChannel accepts either a channel code or a team label.
func ParseChannel(raw string) (Channel, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if c := Channel(normalized); c.IsValid() {
		return c, nil
	}
	if c, ok := channelLabels[normalized]; ok {
		return c, nil
	}
	return "", ErrInvalidChannel
}

// Outcome is the result of a collection contact.
type Outcome string

const (
	OutcomePaymentMade      Outcome = "payment_made"
	OutcomePaymentPromised  Outcome = "payment_promised"
	OutcomePaymentAgreement Outcome = "payment_agreement"
	OutcomeNoAnswer         Outcome = "no_answer"
	OutcomeNotLocated       Outcome = "not_located"
	OutcomeRefusedToPay     Outcome = "refused_to_pay"
	OutcomeWrongNumber      Outcome = "wrong_number"
)

var outcomeLabels = map[string]Outcome{
	"pago realizado":    OutcomePaymentMade,
	"pago comprometido": OutcomePaymentPromised,
	"acuerdo de pago":   OutcomePaymentAgreement,
	"sin respuesta":     OutcomeNoAnswer,
	"no localizado":     OutcomeNotLocated,
	"negativa de pago":  OutcomeRefusedToPay,
	"número equivocado": OutcomeWrongNumber,
	"numero equivocado": OutcomeWrongNumber,
}

// ValidOutcomes returns all valid outcome values.
func ValidOutcomes() []Outcome {
	return []Outcome{
		OutcomePaymentMade,
		OutcomePaymentPromised,
		OutcomePaymentAgreement,
		OutcomeNoAnswer,
		OutcomeNotLocated,
		OutcomeRefusedToPay,
		OutcomeWrongNumber,
	}
}

// IsValid checks if the outcome is valid.
func (o Outcome) IsValid() bool {
	for _, valid := range ValidOutcomes() {
		if o == valid {
			return true
		}
	}
	return false
}

// ParseOutcome accepts either an outcome code or a team label.
func ParseOutcome(raw string) (Outcome, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if o := Outcome(normalized); o.IsValid() {
		return o, nil
	}
	if o, ok := outcomeLabels[normalized]; ok {
		return o, nil
	}
	return "", ErrInvalidOutcome
}

// CollectionAction is one logged contact attempt against a loan.
// LoanID is a weak reference: the action survives the loan leaving the extract.
type CollectionAction struct {
	ID                   int64            `json:"id" db:"id"`
	LoanID               string           `json:"loan_id" db:"loan_id"`
	BorrowerIDSnapshot   string           `json:"borrower_id_snapshot,omitempty" db:"borrower_id_snapshot"`
	BorrowerNameSnapshot string           `json:"borrower_name_snapshot,omitempty" db:"borrower_name_snapshot"`
	ActionDate           time.Time        `json:"action_date" db:"action_date"`
	Channel              Channel          `json:"channel" db:"channel"`
	Outcome              Outcome          `json:"outcome" db:"outcome"`
	CommitmentDate       *time.Time       `json:"commitment_date,omitempty" db:"commitment_date"`
	CommittedAmount      *decimal.Decimal `json:"committed_amount,omitempty" db:"committed_amount"`
	Notes                string           `json:"notes,omitempty" db:"notes"`
	AgentName            string           `json:"agent_name,omitempty" db:"agent_name"`
	CreatedAt            time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at" db:"updated_at"`
}

// CollectionActionInput represents the data a collector submits for a contact attempt.
type CollectionActionInput struct {
	LoanID          string           `json:"loan_id"`
	BorrowerName    string           `json:"borrower_name,omitempty"`
	ActionDate      *FlexibleTime    `json:"action_date,omitempty"`
	Channel         string           `json:"channel"`
	Outcome         string           `json:"outcome"`
	CommitmentDate  *FlexibleTime    `json:"commitment_date,omitempty"`
	CommittedAmount *decimal.Decimal `json:"committed_amount,omitempty"`
	Notes           string           `json:"notes,omitempty"`
	AgentName       string           `json:"agent_name,omitempty"`
}

// FlexibleTime is a submitted timestamp that also accepts a bare YYYY-MM-DD
// date, which is how date pickers send it.
type FlexibleTime struct {
	Time     time.Time
	DateOnly bool
}

// UnmarshalJSON accepts "2006-01-02" or an RFC3339 timestamp.
func (f *FlexibleTime) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		*f = FlexibleTime{Time: t, DateOnly: true}
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return fmt.Errorf("invalid date %q: want YYYY-MM-DD or RFC3339", raw)
	}
	*f = FlexibleTime{Time: t}
	return nil
}

// MarshalJSON writes bare dates back as YYYY-MM-DD.
func (f FlexibleTime) MarshalJSON() ([]byte, error) {
	if f.DateOnly {
		return json.Marshal(f.Time.Format(time.DateOnly))
	}
	return json.Marshal(f.Time.Format(time.RFC3339))
}

// In resolves the value against loc. A bare date becomes midnight of that
// calendar day in loc; a timestamp keeps its instant.
func (f FlexibleTime) In(loc *time.Location) time.Time {
	if !f.DateOnly {
		return f.Time
	}
	y, m, d := f.Time.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// CollectionActionFilter narrows the ledger listing.
type CollectionActionFilter struct {
	Search  string  `json:"search,omitempty"`
	Outcome Outcome `json:"outcome,omitempty"`
	LoanID  string  `json:"loan_id,omitempty"`
}

// Matches checks a single action against the filter.
func (f CollectionActionFilter) Matches(a *CollectionAction) bool {
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		if !strings.Contains(a.LoanID, q) && !strings.Contains(strings.ToLower(a.BorrowerNameSnapshot), q) {
			return false
		}
	}
	if f.Outcome != "" && a.Outcome != f.Outcome {
		return false
	}
	if f.LoanID != "" && a.LoanID != f.LoanID {
		return false
	}
	return true
}
