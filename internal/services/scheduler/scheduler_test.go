package scheduler

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
	"loan-portfolio-engine/internal/services/aging"
	"loan-portfolio-engine/internal/services/ses"
)

type fakeSource struct {
	stale  aging.StaleReport
	alerts []aging.Alert
}

func (f *fakeSource) Today() time.Time {
	return time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)
}

func (f *fakeSource) Stale() aging.StaleReport       { return f.stale }
func (f *fakeSource) DueToday() aging.DueTodayResult { return aging.DueTodayResult{Day: 15} }
func (f *fakeSource) Alerts() []aging.Alert          { return f.alerts }

type mockMailer struct {
	mock.Mock
}

func (m *mockMailer) SendStaleDigest(ctx context.Context, recipients []string, params ses.StaleDigestParams) (*ses.SendEmailResult, error) {
	args := m.Called(ctx, recipients, params)
	res, _ := args.Get(0).(*ses.SendEmailResult)
	return res, args.Error(1)
}

func staleSource() *fakeSource {
	return &fakeSource{
		stale: aging.StaleReport{
			ThresholdDays: 7,
			Loans: []aging.StaleLoan{{LoanRecord: models.LoanRecord{
				LoanID:           "1001",
				DaysOverdue:      40,
				RiskCategory:     models.RiskCategoryB,
				PrincipalBalance: decimal.NewFromInt(500),
			}}},
			Principal: decimal.NewFromInt(500),
		},
	}
}

func TestDigestJob_Sends(t *testing.T) {
	mailer := &mockMailer{}
	job := NewDigestJob(staleSource(), mailer, []string{"cobranza@example.com"})
	job.DashboardURL = "https://cartera.example.com"

	mailer.On("SendStaleDigest", mock.Anything, []string{"cobranza@example.com"}, mock.MatchedBy(func(p ses.StaleDigestParams) bool {
		return p.StaleCount == 1 && p.Date == "2024-03-15" && p.DashboardURL == "https://cartera.example.com"
	})).Return(&ses.SendEmailResult{MessageID: "m-1"}, nil).Once()

	sent, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, sent)
	mailer.AssertExpectations(t)
}

func TestDigestJob_NothingToSend(t *testing.T) {
	mailer := &mockMailer{}
	job := NewDigestJob(&fakeSource{}, mailer, []string{"cobranza@example.com"})

	sent, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, sent)
	mailer.AssertNotCalled(t, "SendStaleDigest", mock.Anything, mock.Anything, mock.Anything)
}

func TestDigestJob_Errors(t *testing.T) {
	mailer := &mockMailer{}

	_, err := NewDigestJob(staleSource(), mailer, nil).Run(context.Background())
	assert.ErrorContains(t, err, "no digest recipients")

	mailer.On("SendStaleDigest", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("throttled"))
	_, err = NewDigestJob(staleSource(), mailer, []string{"a@example.com"}).Run(context.Background())
	assert.ErrorContains(t, err, "throttled")
}

func TestScheduler_Register(t *testing.T) {
	s := New(time.FixedZone("COT", -5*3600))
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.Register("0 8 * * 1-6", "digest", noop))
	assert.Equal(t, 1, s.Jobs())

	err := s.Register("not a schedule", "broken", noop)
	assert.ErrorContains(t, err, "invalid schedule")
	assert.Equal(t, 1, s.Jobs())
}

func TestScheduler_StartStop(t *testing.T) {
	s := New(nil)
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
