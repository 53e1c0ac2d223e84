package portfolio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"loan-portfolio-engine/internal/models"
	"loan-portfolio-engine/internal/services/database"
)

type mockLoanStore struct {
	mock.Mock
}

func (m *mockLoanStore) GetAll(ctx context.Context) ([]models.LoanRecord, error) {
	args := m.Called(ctx)
	loans, _ := args.Get(0).([]models.LoanRecord)
	return loans, args.Error(1)
}

func (m *mockLoanStore) ReplaceAll(ctx context.Context, loans []models.LoanRecord) (*database.ReplaceResult, error) {
	args := m.Called(ctx, loans)
	res, _ := args.Get(0).(*database.ReplaceResult)
	return res, args.Error(1)
}

func (m *mockLoanStore) SetHandled(ctx context.Context, loanID string, handled bool) error {
	return m.Called(ctx, loanID, handled).Error(0)
}

type mockActionStore struct {
	mock.Mock
	nextID int64
}

func (m *mockActionStore) GetAll(ctx context.Context) ([]models.CollectionAction, error) {
	args := m.Called(ctx)
	actions, _ := args.Get(0).([]models.CollectionAction)
	return actions, args.Error(1)
}

func (m *mockActionStore) Create(ctx context.Context, action *models.CollectionAction) (int64, error) {
	args := m.Called(ctx, action)
	if err := args.Error(1); err != nil {
		return 0, err
	}
	m.nextID++
	action.ID = m.nextID
	return action.ID, nil
}

func (m *mockActionStore) Update(ctx context.Context, action *models.CollectionAction) error {
	return m.Called(ctx, action).Error(0)
}

func (m *mockActionStore) Delete(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

type mockArchiver struct {
	mock.Mock
}

func (m *mockArchiver) Archive(ctx context.Context, batchID, filename string, data []byte) (string, error) {
	args := m.Called(ctx, batchID, filename, data)
	return args.String(0), args.Error(1)
}

var testNow = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, opts ...Option) (*Service, *mockLoanStore, *mockActionStore) {
	t.Helper()
	loans := &mockLoanStore{}
	actions := &mockActionStore{}
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewService(loans, actions, opts...), loans, actions
}

func loan(id, name string, days int, principal int64) models.LoanRecord {
	return models.LoanRecord{
		LoanID:           id,
		BorrowerID:       "CC" + id,
		BorrowerName:     name,
		DaysOverdue:      days,
		RiskCategory:     models.ClassifyRisk(days),
		PrincipalBalance: decimal.NewFromInt(principal),
	}
}

func loadWith(t *testing.T, svc *Service, ls *mockLoanStore, as *mockActionStore, loans []models.LoanRecord, actions []models.CollectionAction) {
	t.Helper()
	ls.On("GetAll", mock.Anything).Return(loans, nil).Once()
	as.On("GetAll", mock.Anything).Return(actions, nil).Once()
	require.NoError(t, svc.Load(context.Background()))
}

const sampleExtract = "PAGARE;NOMBRE;CEDULASOCI;SALDOCAPIT;DIASMORA;ANUALIDAD;RAPORTES\n" +
	"1001;Juan Pérez;111;1.500.000,00;45;120.000;15\n" +
	"1002;Ana Gómez;222;800.000,00;0;90.000;30\n" +
	"1003;Luis Rojas;333;2.000.000,00;95;150.000;15\n"

func TestLoad(t *testing.T) {
	svc, ls, as := newTestService(t)
	cutoff := time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)
	l := loan("1", "Ana", 10, 100)
	l.CutoffDate = cutoff
	loadWith(t, svc, ls, as, []models.LoanRecord{l}, []models.CollectionAction{{ID: 1, LoanID: "1"}})

	snap := svc.Snapshot()
	require.Len(t, snap.Loans, 1)
	require.Len(t, snap.Actions, 1)
	require.NotNil(t, snap.CutoffDate)
	assert.Equal(t, cutoff, *snap.CutoffDate)
	assert.Equal(t, testNow, snap.LoadedAt)
}

func TestLoad_StoreError(t *testing.T) {
	svc, ls, _ := newTestService(t)
	ls.On("GetAll", mock.Anything).Return(nil, errors.New("connection refused"))

	err := svc.Load(context.Background())
	assert.ErrorContains(t, err, "connection refused")
	assert.Empty(t, svc.Snapshot().Loans)
}

func TestIngest_ReplacesPortfolio(t *testing.T) {
	archiver := &mockArchiver{}
	svc, ls, as := newTestService(t, WithArchiver(archiver))

	prior := loan("1001", "Juan Pérez", 30, 1000)
	prior.Handled = true
	loadWith(t, svc, ls, as, []models.LoanRecord{prior, loan("9999", "Old", 5, 10)}, nil)

	ls.On("ReplaceAll", mock.Anything, mock.MatchedBy(func(loans []models.LoanRecord) bool {
		return len(loans) == 3
	})).Return(&database.ReplaceResult{Upserted: 3, Removed: 1}, nil).Once()
	archiver.On("Archive", mock.Anything, mock.AnythingOfType("string"), "cartera.csv", []byte(sampleExtract)).
		Return("extracts/2024/03/15/x_cartera.csv", nil).Once()

	result, err := svc.Ingest(context.Background(), sampleExtract, "cartera.csv")
	require.NoError(t, err)

	assert.NotEmpty(t, result.BatchID)
	assert.Equal(t, "text", result.Format)
	assert.Equal(t, 3, result.Records)
	assert.Equal(t, int64(1), result.Removed)
	assert.Equal(t, "2024-03-15", result.CutoffDate)
	assert.Equal(t, "extracts/2024/03/15/x_cartera.csv", result.ArchiveKey)

	snap := svc.Snapshot()
	require.Len(t, snap.Loans, 3)
	// most overdue first
	assert.Equal(t, "1003", snap.Loans[0].LoanID)
	assert.Equal(t, "1001", snap.Loans[1].LoanID)
	assert.True(t, snap.Loans[1].Handled, "handled flag carries over")
	assert.False(t, snap.Loans[0].Handled)

	ls.AssertExpectations(t)
	archiver.AssertExpectations(t)
}

func TestIngest_ArchiveFailureIsNotFatal(t *testing.T) {
	archiver := &mockArchiver{}
	svc, ls, _ := newTestService(t, WithArchiver(archiver))

	ls.On("ReplaceAll", mock.Anything, mock.Anything).Return(&database.ReplaceResult{Upserted: 3}, nil)
	archiver.On("Archive", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("access denied"))

	result, err := svc.Ingest(context.Background(), sampleExtract, "cartera.csv")
	require.NoError(t, err)
	assert.Empty(t, result.ArchiveKey)
	assert.Len(t, svc.Snapshot().Loans, 3)
}

func TestIngest_StoreFailureKeepsSnapshot(t *testing.T) {
	archiver := &mockArchiver{}
	svc, ls, as := newTestService(t, WithArchiver(archiver))
	loadWith(t, svc, ls, as, []models.LoanRecord{loan("1", "Ana", 10, 100)}, nil)

	ls.On("ReplaceAll", mock.Anything, mock.Anything).Return(nil, errors.New("deadlock detected"))

	_, err := svc.Ingest(context.Background(), sampleExtract, "cartera.csv")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrStoreWrite)
	assert.ErrorContains(t, err, "deadlock detected")

	snap := svc.Snapshot()
	require.Len(t, snap.Loans, 1)
	assert.Equal(t, "1", snap.Loans[0].LoanID)
	archiver.AssertNotCalled(t, "Archive", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestIngest_EmptyExtract(t *testing.T) {
	svc, ls, as := newTestService(t)
	loadWith(t, svc, ls, as, []models.LoanRecord{loan("1", "Ana", 10, 100)}, nil)

	_, err := svc.Ingest(context.Background(), "PAGARE;NOMBRE", "cartera.csv")
	assert.ErrorIs(t, err, models.ErrEmptyExtract)

	_, err = svc.Ingest(context.Background(), "PAGARE;NOMBRE\n;Sin pagare", "cartera.csv")
	assert.ErrorIs(t, err, models.ErrNoLoanRecords)

	ls.AssertNotCalled(t, "ReplaceAll", mock.Anything, mock.Anything)
	require.Len(t, svc.Snapshot().Loans, 1)
	assert.Equal(t, "1", svc.Snapshot().Loans[0].LoanID)
}

func TestIngest_DuplicateLoanIDKeepsLastRow(t *testing.T) {
	svc, ls, _ := newTestService(t)
	ls.On("ReplaceAll", mock.Anything, mock.Anything).Return(&database.ReplaceResult{Upserted: 1}, nil)

	result, err := svc.Ingest(context.Background(), "PAGARE;NOMBRE\n1;Primero\n1;Segundo", "dup.csv")
	require.NoError(t, err)
	assert.Equal(t, 2, result.DataRows)
	assert.Equal(t, 1, result.Records)
	assert.Equal(t, "Segundo", svc.Snapshot().Loans[0].BorrowerName)
}

func TestIngestFile_Unsupported(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.IngestFile(context.Background(), "cartera.pdf", []byte("x"))
	assert.ErrorIs(t, err, models.ErrUnsupportedFile)
}

func TestCreateAction(t *testing.T) {
	svc, ls, as := newTestService(t)
	loadWith(t, svc, ls, as, []models.LoanRecord{loan("1001", "Juan Pérez", 45, 1000)}, nil)
	as.On("Create", mock.Anything, mock.Anything).Return(int64(0), nil)

	action, err := svc.CreateAction(context.Background(), &models.CollectionActionInput{
		LoanID:  "1001",
		Channel: "Llamada telefónica",
		Outcome: "payment_promised",
	}, "maria")
	require.NoError(t, err)

	assert.Equal(t, int64(1), action.ID)
	assert.Equal(t, models.ChannelPhoneCall, action.Channel)
	assert.Equal(t, models.OutcomePaymentPromised, action.Outcome)
	assert.Equal(t, "CC1001", action.BorrowerIDSnapshot)
	assert.Equal(t, "Juan Pérez", action.BorrowerNameSnapshot)
	assert.Equal(t, "maria", action.AgentName)
	assert.Equal(t, testNow, action.ActionDate)

	history := svc.ListActions(models.CollectionActionFilter{LoanID: "1001"})
	require.Len(t, history, 1)

	_, hist, err := svc.Loan("1001")
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

func TestCreateAction_UnknownLoanIsAllowed(t *testing.T) {
	svc, _, as := newTestService(t)
	as.On("Create", mock.Anything, mock.Anything).Return(int64(0), nil)

	action, err := svc.CreateAction(context.Background(), &models.CollectionActionInput{
		LoanID:       "404",
		BorrowerName: "Nadie",
		Channel:      "sms",
		Outcome:      "no_answer",
	}, "maria")
	require.NoError(t, err)
	assert.Empty(t, action.BorrowerIDSnapshot)
	assert.Equal(t, "Nadie", action.BorrowerNameSnapshot)
}

func TestCreateAction_DatesInPortfolioZone(t *testing.T) {
	bogota := time.FixedZone("COT", -5*3600)
	svc, _, as := newTestService(t, WithLocation(bogota))
	as.On("Create", mock.Anything, mock.Anything).Return(int64(0), nil)

	action, err := svc.CreateAction(context.Background(), &models.CollectionActionInput{
		LoanID:         "1001",
		Channel:        "sms",
		Outcome:        "payment_promised",
		ActionDate:     &models.FlexibleTime{Time: time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC), DateOnly: true},
		CommitmentDate: &models.FlexibleTime{Time: time.Date(2024, 3, 21, 2, 0, 0, 0, time.UTC)},
	}, "maria")
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 3, 8, 0, 0, 0, 0, bogota), action.ActionDate)
	require.NotNil(t, action.CommitmentDate)
	assert.Equal(t, time.Date(2024, 3, 20, 0, 0, 0, 0, bogota), *action.CommitmentDate)
}

func TestCreateAction_Validation(t *testing.T) {
	svc, _, as := newTestService(t)

	_, err := svc.CreateAction(context.Background(), &models.CollectionActionInput{Channel: "sms", Outcome: "no_answer"}, "u")
	assert.ErrorIs(t, err, models.ErrEmptyLoanID)

	_, err = svc.CreateAction(context.Background(), &models.CollectionActionInput{LoanID: "1", Channel: "pigeon", Outcome: "no_answer"}, "u")
	assert.ErrorIs(t, err, models.ErrInvalidChannel)

	as.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestCreateAction_StoreFailure(t *testing.T) {
	svc, _, as := newTestService(t)
	as.On("Create", mock.Anything, mock.Anything).Return(int64(0), errors.New("timeout"))

	_, err := svc.CreateAction(context.Background(), &models.CollectionActionInput{LoanID: "1", Channel: "sms", Outcome: "no_answer"}, "u")
	assert.ErrorIs(t, err, models.ErrStoreWrite)
	assert.Empty(t, svc.ListActions(models.CollectionActionFilter{}))
}

func TestUpdateAndDeleteAction(t *testing.T) {
	svc, ls, as := newTestService(t)
	earlier := testNow.AddDate(0, 0, -3)
	loadWith(t, svc, ls, as, nil, []models.CollectionAction{
		{ID: 7, LoanID: "1", ActionDate: earlier, Channel: models.ChannelSMS, Outcome: models.OutcomeNoAnswer, AgentName: "maria"},
	})

	as.On("Update", mock.Anything, mock.Anything).Return(nil).Once()
	updated, err := svc.UpdateAction(context.Background(), 7, &models.CollectionActionInput{
		LoanID: "1", Channel: "whatsapp", Outcome: "payment_made", Notes: "  pagó  ",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), updated.ID)
	assert.Equal(t, earlier, updated.ActionDate)
	assert.Equal(t, "maria", updated.AgentName)
	assert.Equal(t, "pagó", updated.Notes)
	assert.Equal(t, models.OutcomePaymentMade, svc.ListActions(models.CollectionActionFilter{})[0].Outcome)

	_, err = svc.UpdateAction(context.Background(), 99, &models.CollectionActionInput{LoanID: "1", Channel: "sms", Outcome: "no_answer"})
	assert.ErrorIs(t, err, models.ErrActionNotFound)

	as.On("Delete", mock.Anything, int64(7)).Return(nil).Once()
	require.NoError(t, svc.DeleteAction(context.Background(), 7))
	assert.Empty(t, svc.ListActions(models.CollectionActionFilter{}))

	assert.ErrorIs(t, svc.DeleteAction(context.Background(), 7), models.ErrActionNotFound)
	as.AssertExpectations(t)
}

func TestSetHandled(t *testing.T) {
	svc, ls, as := newTestService(t)
	loadWith(t, svc, ls, as, []models.LoanRecord{loan("1", "Ana", 10, 100)}, nil)

	ls.On("SetHandled", mock.Anything, "1", true).Return(nil).Once()
	updated, err := svc.SetHandled(context.Background(), "1", true)
	require.NoError(t, err)
	assert.True(t, updated.Handled)

	handled := true
	assert.Len(t, svc.ListLoans(models.LoanFilter{Handled: &handled}), 1)

	_, err = svc.SetHandled(context.Background(), "2", true)
	assert.ErrorIs(t, err, models.ErrLoanNotFound)

	ls.On("SetHandled", mock.Anything, "1", false).Return(errors.New("read-only")).Once()
	_, err = svc.SetHandled(context.Background(), "1", false)
	assert.ErrorIs(t, err, models.ErrStoreWrite)
	assert.True(t, svc.Snapshot().Loans[0].Handled)
}

func TestReadModels(t *testing.T) {
	svc, ls, as := newTestService(t, WithStaleThreshold(7))
	due := 15
	l1 := loan("1", "Ana", 45, 1000)
	l1.RecurringDueDay = &due
	l1.InstallmentAmount = decimal.NewFromInt(50)
	l2 := loan("2", "Luis", 100, 3000)
	l3 := loan("3", "Marta", 0, 500)

	loadWith(t, svc, ls, as, []models.LoanRecord{l2, l1, l3}, []models.CollectionAction{
		{ID: 1, LoanID: "2", ActionDate: testNow.AddDate(0, 0, -2)},
	})

	assert.Equal(t, 3, svc.Summary().LoanCount)
	assert.Len(t, svc.Delinquent(), 2)
	assert.Equal(t, "2", svc.TopDelinquent(1)[0].LoanID)

	stale := svc.Stale()
	require.Len(t, stale.Loans, 1)
	assert.Equal(t, "1", stale.Loans[0].LoanID)

	dueToday := svc.DueToday()
	require.Len(t, dueToday.Loans, 1)
	assert.True(t, decimal.NewFromInt(50).Equal(dueToday.ExpectedCollections))

	assert.Equal(t, 16, svc.Rollover().DaysRemaining)
	assert.NotEmpty(t, svc.Alerts())
}

func TestToday_UsesLocation(t *testing.T) {
	bogota := time.FixedZone("COT", -5*3600)
	late := time.Date(2024, 3, 16, 2, 0, 0, 0, time.UTC)
	svc := NewService(&mockLoanStore{}, &mockActionStore{}, WithClock(func() time.Time { return late }), WithLocation(bogota))

	assert.Equal(t, 15, svc.Today().Day())
}

func TestReport(t *testing.T) {
	svc, ls, as := newTestService(t)
	loadWith(t, svc, ls, as, []models.LoanRecord{loan("2", "Luis", 100, 3000), loan("1", "Ana", 45, 1000), loan("3", "Marta", 0, 500)}, []models.CollectionAction{
		{ID: 1, LoanID: "2", ActionDate: testNow, Channel: models.ChannelSMS, Outcome: models.OutcomeNoAnswer, Notes: `dijo "mañana"`},
	})

	general, err := svc.Report(ReportGeneral, models.LoanFilter{}, models.CollectionActionFilter{})
	require.NoError(t, err)
	assert.Equal(t, "general_2024-03-15", general.Name)
	assert.Equal(t, "PAGARE", general.Header[0])
	assert.Len(t, general.Rows, 3)

	delinquent, err := svc.Report(ReportDelinquent, models.LoanFilter{}, models.CollectionActionFilter{})
	require.NoError(t, err)
	assert.Len(t, delinquent.Rows, 2)

	highRisk, err := svc.Report(ReportHighRisk, models.LoanFilter{}, models.CollectionActionFilter{})
	require.NoError(t, err)
	require.Len(t, highRisk.Rows, 1)
	assert.Equal(t, "2", highRisk.Rows[0][0])

	filtered, err := svc.Report(ReportLoans, models.LoanFilter{Search: "marta"}, models.CollectionActionFilter{})
	require.NoError(t, err)
	require.Len(t, filtered.Rows, 1)

	actions, err := svc.Report(ReportCollectionActions, models.LoanFilter{}, models.CollectionActionFilter{})
	require.NoError(t, err)
	require.Len(t, actions.Rows, 1)
	assert.Equal(t, []string{"2024-03-15", "2", "", "sms", "no_answer", "", "", `dijo "mañana"`, ""}, actions.Rows[0])

	for _, name := range ReportNames() {
		_, err := svc.Report(name, models.LoanFilter{}, models.CollectionActionFilter{})
		assert.NoError(t, err, name)
	}

	_, err = svc.Report("bogus", models.LoanFilter{}, models.CollectionActionFilter{})
	assert.ErrorIs(t, err, models.ErrUnknownReport)
}
