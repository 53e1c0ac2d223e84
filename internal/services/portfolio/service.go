// Package portfolio owns the in-memory working set of loans and collection
// actions, keeps it consistent with the persistent store, and serves the
// aging read models over it.
package portfolio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"loan-portfolio-engine/internal/models"
	"loan-portfolio-engine/internal/services/aging"
	"loan-portfolio-engine/internal/services/database"
	"loan-portfolio-engine/internal/utils"
)

// LoanStore persists the loan table.
type LoanStore interface {
	GetAll(ctx context.Context) ([]models.LoanRecord, error)
	ReplaceAll(ctx context.Context, loans []models.LoanRecord) (*database.ReplaceResult, error)
	SetHandled(ctx context.Context, loanID string, handled bool) error
}

// ActionStore persists the collection ledger.
type ActionStore interface {
	GetAll(ctx context.Context) ([]models.CollectionAction, error)
	Create(ctx context.Context, action *models.CollectionAction) (int64, error)
	Update(ctx context.Context, action *models.CollectionAction) error
	Delete(ctx context.Context, id int64) error
}

// Archiver keeps a copy of every ingested extract.
type Archiver interface {
	Archive(ctx context.Context, batchID, filename string, data []byte) (string, error)
}

// Snapshot is an immutable view of the working set. Callers must not mutate it.
type Snapshot struct {
	Loans      []models.LoanRecord
	Actions    []models.CollectionAction
	CutoffDate *time.Time
	LoadedAt   time.Time
}

// IngestResult reports the outcome of one extract upload.
type IngestResult struct {
	BatchID       string                 `json:"batch_id"`
	Filename      string                 `json:"filename"`
	Format        string                 `json:"format"`
	CutoffDate    string                 `json:"cutoff_date"`
	DataRows      int                    `json:"data_rows"`
	Records       int                    `json:"records"`
	DroppedRows   int                    `json:"dropped_rows"`
	Removed       int64                  `json:"removed"`
	MissingFields []utils.CanonicalField `json:"missing_fields,omitempty"`
	ArchiveKey    string                 `json:"archive_key,omitempty"`
	ProcessingMs  int64                  `json:"processing_ms"`
}

// Service coordinates ingestion, the collection ledger and the read models.
type Service struct {
	loans    LoanStore
	actions  ActionStore
	archiver Archiver
	parser   *utils.ExtractParser
	logger   *zap.Logger

	now            func() time.Time
	loc            *time.Location
	staleThreshold int

	// writeMu serializes store writes so snapshot swaps never lose an update.
	writeMu sync.Mutex
	mu      sync.RWMutex
	snap    *Snapshot
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the timezone that defines the portfolio's "today".
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithStaleThreshold sets the follow-up threshold in days.
func WithStaleThreshold(days int) Option {
	return func(s *Service) {
		if days > 0 {
			s.staleThreshold = days
		}
	}
}

// WithArchiver enables archiving of raw extracts.
func WithArchiver(a Archiver) Option {
	return func(s *Service) { s.archiver = a }
}

// NewService creates a portfolio service with an empty working set.
func NewService(loans LoanStore, actions ActionStore, opts ...Option) *Service {
	s := &Service{
		loans:          loans,
		actions:        actions,
		parser:         utils.NewExtractParser(),
		logger:         utils.GetLogger(),
		now:            time.Now,
		loc:            time.UTC,
		staleThreshold: aging.DefaultStaleThresholdDays,
		snap: &Snapshot{
			Loans:   []models.LoanRecord{},
			Actions: []models.CollectionAction{},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Today returns the current time in the portfolio timezone.
func (s *Service) Today() time.Time {
	return s.now().In(s.loc)
}

// StaleThreshold returns the follow-up threshold in days.
func (s *Service) StaleThreshold() int {
	return s.staleThreshold
}

// Snapshot returns the current working set.
func (s *Service) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *Service) swap(next *Snapshot) {
	s.mu.Lock()
	s.snap = next
	s.mu.Unlock()
}

// Load replaces the working set with the persisted tables.
func (s *Service) Load(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	loans, err := s.loans.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load loans: %w", err)
	}

	actions, err := s.actions.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load collection actions: %w", err)
	}

	next := &Snapshot{
		Loans:      loans,
		Actions:    actions,
		CutoffDate: latestCutoff(loans),
		LoadedAt:   s.now(),
	}
	s.swap(next)

	s.logger.Info("Loaded portfolio",
		zap.Int("loans", len(loans)),
		zap.Int("collection_actions", len(actions)),
	)
	return nil
}

func latestCutoff(loans []models.LoanRecord) *time.Time {
	var latest *time.Time
	for i := range loans {
		c := loans[i].CutoffDate
		if c.IsZero() {
			continue
		}
		if latest == nil || c.After(*latest) {
			latest = &c
		}
	}
	return latest
}

// Ingest parses a delimited-text extract and replaces the portfolio with it.
func (s *Service) Ingest(ctx context.Context, raw string, source string) (*IngestResult, error) {
	start := time.Now()
	parsed, err := s.parser.ParseText(raw, s.Today())
	if err != nil {
		return nil, err
	}
	return s.commit(ctx, parsed, source, "text", []byte(raw), start)
}

// IngestXLSX parses a spreadsheet extract and replaces the portfolio with it.
func (s *Service) IngestXLSX(ctx context.Context, r io.Reader, source string) (*IngestResult, error) {
	start := time.Now()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read spreadsheet: %w", err)
	}
	parsed, err := s.parser.ParseXLSX(bytes.NewReader(data), s.Today())
	if err != nil {
		return nil, err
	}
	return s.commit(ctx, parsed, source, "xlsx", data, start)
}

// IngestFile picks the parser from the file name.
func (s *Service) IngestFile(ctx context.Context, filename string, data []byte) (*IngestResult, error) {
	format, err := utils.DetectExtractFormat(filename)
	if err != nil {
		return nil, err
	}
	if format == "xlsx" {
		return s.IngestXLSX(ctx, bytes.NewReader(data), filename)
	}
	return s.Ingest(ctx, string(data), filename)
}

func (s *Service) commit(ctx context.Context, parsed *utils.ParsedExtract, source, format string, raw []byte, start time.Time) (*IngestResult, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	batchID := uuid.NewString()
	logger := s.logger.With(
		zap.String("batch_id", batchID),
		zap.String("source", source),
	)

	// The handled flag is not part of the extract; carry it over by loan id.
	prev := s.Snapshot()
	handled := make(map[string]bool, len(prev.Loans))
	for i := range prev.Loans {
		if prev.Loans[i].Handled {
			handled[prev.Loans[i].LoanID] = true
		}
	}

	loans := make([]models.LoanRecord, len(parsed.Records))
	copy(loans, parsed.Records)
	for i := range loans {
		loans[i].Handled = handled[loans[i].LoanID]
	}
	loans = dedupeByLoanID(loans)
	sortLoans(loans)

	replaced, err := s.loans.ReplaceAll(ctx, loans)
	if err != nil {
		logger.Error("Failed to persist extract", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", models.ErrStoreWrite, err)
	}

	result := &IngestResult{
		BatchID:       batchID,
		Filename:      source,
		Format:        format,
		CutoffDate:    parsed.CutoffDate.Format(utils.DateLayout),
		DataRows:      parsed.DataRows,
		Records:       len(loans),
		DroppedRows:   parsed.DroppedRows,
		Removed:       replaced.Removed,
		MissingFields: parsed.MissingFields,
	}

	if s.archiver != nil {
		key, err := s.archiver.Archive(ctx, batchID, source, raw)
		if err != nil {
			logger.Warn("Failed to archive extract", zap.Error(err))
		} else {
			result.ArchiveKey = key
		}
	}

	cutoff := parsed.CutoffDate
	s.swap(&Snapshot{
		Loans:      loans,
		Actions:    prev.Actions,
		CutoffDate: &cutoff,
		LoadedAt:   s.now(),
	})

	result.ProcessingMs = time.Since(start).Milliseconds()
	logger.Info("Ingested portfolio extract",
		zap.Int("records", result.Records),
		zap.Int("dropped_rows", result.DroppedRows),
		zap.Int64("removed", result.Removed),
		zap.String("cutoff_date", result.CutoffDate),
	)

	return result, nil
}

// dedupeByLoanID keeps the last row of each loan id, matching upsert semantics.
func dedupeByLoanID(loans []models.LoanRecord) []models.LoanRecord {
	index := make(map[string]int, len(loans))
	out := make([]models.LoanRecord, 0, len(loans))
	for _, l := range loans {
		if i, ok := index[l.LoanID]; ok {
			out[i] = l
			continue
		}
		index[l.LoanID] = len(out)
		out = append(out, l)
	}
	return out
}

// sortLoans mirrors the store's read order: most overdue first, then loan id.
func sortLoans(loans []models.LoanRecord) {
	sort.SliceStable(loans, func(i, j int) bool {
		if loans[i].DaysOverdue != loans[j].DaysOverdue {
			return loans[i].DaysOverdue > loans[j].DaysOverdue
		}
		return loans[i].LoanID < loans[j].LoanID
	})
}

// sortActions mirrors the store's read order: newest first.
func sortActions(actions []models.CollectionAction) {
	sort.SliceStable(actions, func(i, j int) bool {
		if !actions[i].ActionDate.Equal(actions[j].ActionDate) {
			return actions[i].ActionDate.After(actions[j].ActionDate)
		}
		return actions[i].ID > actions[j].ID
	})
}

func findLoan(loans []models.LoanRecord, loanID string) int {
	for i := range loans {
		if loans[i].LoanID == loanID {
			return i
		}
	}
	return -1
}

func findAction(actions []models.CollectionAction, id int64) int {
	for i := range actions {
		if actions[i].ID == id {
			return i
		}
	}
	return -1
}

// Loan returns one loan and its collection history, newest first.
func (s *Service) Loan(loanID string) (*models.LoanRecord, []models.CollectionAction, error) {
	snap := s.Snapshot()
	i := findLoan(snap.Loans, loanID)
	if i < 0 {
		return nil, nil, models.ErrLoanNotFound
	}
	loan := snap.Loans[i]
	history := s.ListActions(models.CollectionActionFilter{LoanID: loanID})
	return &loan, history, nil
}

// ListLoans returns the loans matching filter in store order.
func (s *Service) ListLoans(filter models.LoanFilter) []models.LoanRecord {
	return aging.FilterLoans(s.Snapshot().Loans, filter)
}

// SetHandled toggles the follow-up flag of a loan.
func (s *Service) SetHandled(ctx context.Context, loanID string, handled bool) (*models.LoanRecord, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	prev := s.Snapshot()
	i := findLoan(prev.Loans, loanID)
	if i < 0 {
		return nil, models.ErrLoanNotFound
	}

	if err := s.loans.SetHandled(ctx, loanID, handled); err != nil {
		if errors.Is(err, models.ErrLoanNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", models.ErrStoreWrite, err)
	}

	loans := make([]models.LoanRecord, len(prev.Loans))
	copy(loans, prev.Loans)
	loans[i].Handled = handled

	s.swap(&Snapshot{
		Loans:      loans,
		Actions:    prev.Actions,
		CutoffDate: prev.CutoffDate,
		LoadedAt:   prev.LoadedAt,
	})

	updated := loans[i]
	return &updated, nil
}

// ListActions returns ledger entries matching filter, newest first.
func (s *Service) ListActions(filter models.CollectionActionFilter) []models.CollectionAction {
	snap := s.Snapshot()
	out := make([]models.CollectionAction, 0)
	for i := range snap.Actions {
		if filter.Matches(&snap.Actions[i]) {
			out = append(out, snap.Actions[i])
		}
	}
	return out
}

// buildAction validates input and resolves borrower snapshots from the loan set.
func (s *Service) buildAction(in *models.CollectionActionInput, loans []models.LoanRecord) (*models.CollectionAction, error) {
	channel, outcome, err := models.ValidateCollectionActionInput(in)
	if err != nil {
		return nil, err
	}

	action := &models.CollectionAction{
		LoanID:               strings.TrimSpace(in.LoanID),
		BorrowerNameSnapshot: strings.TrimSpace(in.BorrowerName),
		Channel:              channel,
		Outcome:              outcome,
		CommittedAmount:      in.CommittedAmount,
		Notes:                strings.TrimSpace(in.Notes),
		AgentName:            strings.TrimSpace(in.AgentName),
	}

	if in.CommitmentDate != nil {
		commitment := utils.LocalDay(in.CommitmentDate.In(s.loc), s.loc)
		action.CommitmentDate = &commitment
	}
	if in.ActionDate != nil {
		action.ActionDate = in.ActionDate.In(s.loc)
	} else {
		action.ActionDate = s.now()
	}

	if i := findLoan(loans, action.LoanID); i >= 0 {
		action.BorrowerIDSnapshot = loans[i].BorrowerID
		if action.BorrowerNameSnapshot == "" {
			action.BorrowerNameSnapshot = loans[i].BorrowerName
		}
	}

	return action, nil
}

// CreateAction records a collection contact attempt.
func (s *Service) CreateAction(ctx context.Context, in *models.CollectionActionInput, agent string) (*models.CollectionAction, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	prev := s.Snapshot()
	action, err := s.buildAction(in, prev.Loans)
	if err != nil {
		return nil, err
	}
	if action.AgentName == "" {
		action.AgentName = agent
	}

	if _, err := s.actions.Create(ctx, action); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrStoreWrite, err)
	}

	actions := make([]models.CollectionAction, 0, len(prev.Actions)+1)
	actions = append(actions, *action)
	actions = append(actions, prev.Actions...)
	sortActions(actions)

	s.swap(&Snapshot{
		Loans:      prev.Loans,
		Actions:    actions,
		CutoffDate: prev.CutoffDate,
		LoadedAt:   prev.LoadedAt,
	})

	s.logger.Info("Recorded collection action",
		zap.Int64("id", action.ID),
		zap.String("loan_id", action.LoanID),
		zap.String("channel", string(action.Channel)),
		zap.String("outcome", string(action.Outcome)),
	)

	return action, nil
}

// UpdateAction replaces the editable fields of a ledger entry.
func (s *Service) UpdateAction(ctx context.Context, id int64, in *models.CollectionActionInput) (*models.CollectionAction, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	prev := s.Snapshot()
	i := findAction(prev.Actions, id)
	if i < 0 {
		return nil, models.ErrActionNotFound
	}

	action, err := s.buildAction(in, prev.Loans)
	if err != nil {
		return nil, err
	}
	existing := prev.Actions[i]
	action.ID = id
	action.CreatedAt = existing.CreatedAt
	if in.ActionDate == nil {
		action.ActionDate = existing.ActionDate
	}
	if action.AgentName == "" {
		action.AgentName = existing.AgentName
	}

	if err := s.actions.Update(ctx, action); err != nil {
		if errors.Is(err, models.ErrActionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", models.ErrStoreWrite, err)
	}

	actions := make([]models.CollectionAction, len(prev.Actions))
	copy(actions, prev.Actions)
	actions[i] = *action
	sortActions(actions)

	s.swap(&Snapshot{
		Loans:      prev.Loans,
		Actions:    actions,
		CutoffDate: prev.CutoffDate,
		LoadedAt:   prev.LoadedAt,
	})

	return action, nil
}

// DeleteAction removes a ledger entry.
func (s *Service) DeleteAction(ctx context.Context, id int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	prev := s.Snapshot()
	i := findAction(prev.Actions, id)
	if i < 0 {
		return models.ErrActionNotFound
	}

	if err := s.actions.Delete(ctx, id); err != nil {
		if errors.Is(err, models.ErrActionNotFound) {
			return err
		}
		return fmt.Errorf("%w: %w", models.ErrStoreWrite, err)
	}

	actions := make([]models.CollectionAction, 0, len(prev.Actions)-1)
	actions = append(actions, prev.Actions[:i]...)
	actions = append(actions, prev.Actions[i+1:]...)

	s.swap(&Snapshot{
		Loans:      prev.Loans,
		Actions:    actions,
		CutoffDate: prev.CutoffDate,
		LoadedAt:   prev.LoadedAt,
	})

	return nil
}

// Summary returns the dashboard rollup.
func (s *Service) Summary() aging.PortfolioSummary {
	return aging.Summarize(s.Snapshot().Loans)
}

// Rollover returns the month-end rollover projection.
func (s *Service) Rollover() aging.RolloverProjection {
	return aging.ProjectRollover(s.Snapshot().Loans, s.Today())
}

// Stale returns overdue loans lacking recent follow-up.
func (s *Service) Stale() aging.StaleReport {
	snap := s.Snapshot()
	return aging.DetectStale(snap.Loans, snap.Actions, s.Today(), s.staleThreshold)
}

// DueToday returns the loans with an installment expected today.
func (s *Service) DueToday() aging.DueTodayResult {
	return aging.SelectDueToday(s.Snapshot().Loans, s.Today())
}

// Delinquent returns overdue loans, most overdue first.
func (s *Service) Delinquent() []models.LoanRecord {
	return aging.Delinquent(s.Snapshot().Loans)
}

// TopDelinquent returns the overdue loans with the largest principal.
func (s *Service) TopDelinquent(limit int) []models.LoanRecord {
	return aging.TopDelinquent(s.Snapshot().Loans, limit)
}

// Alerts returns the automatic portfolio alerts.
func (s *Service) Alerts() []aging.Alert {
	snap := s.Snapshot()
	return aging.BuildAlerts(snap.Loans, snap.Actions, s.Today(), s.staleThreshold)
}
