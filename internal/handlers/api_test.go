package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"loan-portfolio-engine/internal/models"
	"loan-portfolio-engine/internal/services/database"
	"loan-portfolio-engine/internal/services/portfolio"
	s3service "loan-portfolio-engine/internal/services/s3"
)

// memoryStore keeps both tables in memory.
type memoryStore struct {
	mu        sync.Mutex
	loans     []models.LoanRecord
	actions   []models.CollectionAction
	nextID    int64
	failWrite bool
}

type memoryLoans struct{ *memoryStore }
type memoryActions struct{ *memoryStore }

var errUnavailable = errors.New("database unavailable")

func (m memoryLoans) GetAll(ctx context.Context) ([]models.LoanRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.LoanRecord(nil), m.loans...), nil
}

func (m memoryLoans) ReplaceAll(ctx context.Context, loans []models.LoanRecord) (*database.ReplaceResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite {
		return nil, errUnavailable
	}
	removed := int64(len(m.loans))
	m.loans = append([]models.LoanRecord(nil), loans...)
	return &database.ReplaceResult{Upserted: len(loans), Removed: removed}, nil
}

func (m memoryLoans) SetHandled(ctx context.Context, loanID string, handled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite {
		return errUnavailable
	}
	return nil
}

func (m memoryActions) GetAll(ctx context.Context) ([]models.CollectionAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.CollectionAction(nil), m.actions...), nil
}

func (m memoryActions) Create(ctx context.Context, action *models.CollectionAction) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite {
		return 0, errUnavailable
	}
	m.nextID++
	action.ID = m.nextID
	m.actions = append(m.actions, *action)
	return action.ID, nil
}

func (m memoryActions) Update(ctx context.Context, action *models.CollectionAction) error {
	return nil
}

func (m memoryActions) Delete(ctx context.Context, id int64) error {
	return nil
}

type mockExtracts struct {
	mock.Mock
}

func (m *mockExtracts) GeneratePresignedUploadURL(ctx context.Context, filename, contentType string, expiryMinutes int) (*s3service.PresignedURLResult, error) {
	args := m.Called(ctx, filename, contentType, expiryMinutes)
	res, _ := args.Get(0).(*s3service.PresignedURLResult)
	return res, args.Error(1)
}

func (m *mockExtracts) ListArchive(ctx context.Context, maxKeys int32) ([]s3service.ArchivedExtract, error) {
	args := m.Called(ctx, maxKeys)
	res, _ := args.Get(0).([]s3service.ArchivedExtract)
	return res, args.Error(1)
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

const testExtract = "PAGARE;NOMBRE;CEDULASOCI;SALDOCAPIT;DIASMORA;RAPORTES;ANUALIDAD\n" +
	"1001;Juan Pérez;111;1.500.000;45;15;120.000\n" +
	"1002;Ana Gómez;222;800.000;0;30;90.000\n" +
	"1003;Luis Rojas;333;2.000.000;95;15;150.000\n"

type testServer struct {
	store    *memoryStore
	extracts *mockExtracts
	handler  http.Handler
}

func newTestServer(t *testing.T, opts ...portfolio.Option) *testServer {
	t.Helper()
	store := &memoryStore{}
	extracts := &mockExtracts{}
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	opts = append([]portfolio.Option{portfolio.WithClock(func() time.Time { return now })}, opts...)
	svc := portfolio.NewService(memoryLoans{store}, memoryActions{store}, opts...)

	api := NewAPI(svc, extracts, NewHealthHandler(pingerFunc(func(context.Context) error { return nil }), "test"))
	return &testServer{store: store, extracts: extracts, handler: api.Router()}
}

func (s *testServer) do(t *testing.T, method, target string, body string, user string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	if body != "" && !strings.HasPrefix(body, "PAGARE") {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func (s *testServer) ingest(t *testing.T) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/extracts?filename=cartera.csv", testExtract, "maria")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "connected", resp.Database)
}

func TestHealth_Degraded(t *testing.T) {
	h := NewHealthHandler(pingerFunc(func(context.Context) error { return errUnavailable }), "test")

	resp, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, resp.Body, `"database":"disconnected"`)
}

func TestMutationsRequireUser(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/extracts", testExtract, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/collection-actions", `{}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// reads stay open
	rec = s.do(t, http.MethodGet, "/api/loans", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUploadRawBody(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/extracts?filename=cartera.csv", testExtract, "maria")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode(t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "Loaded 3 loans", resp.Message)
	assert.Len(t, s.store.loans, 3)
}

func TestUploadMultipart(t *testing.T) {
	s := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "cartera.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte(testExtract))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/extracts", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(UserHeader, "maria")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, s.store.loans, 3)
}

func TestUploadErrors(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/extracts?filename=cartera.csv", "PAGARE;NOMBRE", "maria")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/extracts?filename=cartera.pdf", testExtract, "maria")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	s.store.failWrite = true
	rec = s.do(t, http.MethodPost, "/api/extracts?filename=cartera.csv", testExtract, "maria")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, decode(t, rec).Error, "database unavailable")
}

func TestReadEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.ingest(t)

	for _, path := range []string{
		"/api/loans?only_overdue=true",
		"/api/portfolio/summary",
		"/api/portfolio/rollover",
		"/api/portfolio/stale",
		"/api/portfolio/due-today",
		"/api/portfolio/delinquent",
		"/api/portfolio/delinquent?top=1",
		"/api/portfolio/alerts",
		"/api/collection-actions",
		"/api/reports",
	} {
		rec := s.do(t, http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.True(t, decode(t, rec).Success, path)
	}

	rec := s.do(t, http.MethodGet, "/api/portfolio/delinquent?top=x", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/loans?category=D", "", "")
	data := decode(t, rec).Data.(map[string]interface{})
	assert.EqualValues(t, 1, data["count"])
}

func TestLoanDetailAndHandled(t *testing.T) {
	s := newTestServer(t)
	s.ingest(t)

	rec := s.do(t, http.MethodGet, "/api/loans/1001", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/loans/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPatch, "/api/loans/1001/handled", `{"handled":true}`, "maria")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode(t, rec).Data.(map[string]interface{})["handled"])

	rec = s.do(t, http.MethodPatch, "/api/loans/1001/handled", `not json`, "maria")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCollectionActions(t *testing.T) {
	s := newTestServer(t)
	s.ingest(t)

	rec := s.do(t, http.MethodPost, "/api/collection-actions",
		`{"loan_id":"1001","channel":"whatsapp","outcome":"Pago comprometido","committed_amount":"120000"}`, "maria")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	created := decode(t, rec).Data.(map[string]interface{})
	assert.Equal(t, "payment_promised", created["outcome"])
	assert.Equal(t, "maria", created["agent_name"])
	assert.Equal(t, "Juan Pérez", created["borrower_name_snapshot"])

	rec = s.do(t, http.MethodPost, "/api/collection-actions", `{"loan_id":"1001","channel":"fax","outcome":"no_answer"}`, "maria")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, "/api/collection-actions/1", `{"loan_id":"1001","channel":"sms","outcome":"payment_made"}`, "maria")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPut, "/api/collection-actions/99", `{"loan_id":"1001","channel":"sms","outcome":"payment_made"}`, "maria")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPut, "/api/collection-actions/abc", `{}`, "maria")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/collection-actions/1", "", "maria")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/collection-actions/1", "", "maria")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCollectionActions_DateOnlyInput(t *testing.T) {
	bogota := time.FixedZone("COT", -5*3600)
	s := newTestServer(t, portfolio.WithLocation(bogota))
	s.ingest(t)

	rec := s.do(t, http.MethodPost, "/api/collection-actions",
		`{"loan_id":"1001","channel":"phone_call","outcome":"payment_promised","action_date":"2024-03-08","commitment_date":"2024-03-20"}`, "maria")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	require.Len(t, s.store.actions, 1)
	stored := s.store.actions[0]
	assert.Equal(t, time.Date(2024, 3, 8, 0, 0, 0, 0, bogota), stored.ActionDate)
	require.NotNil(t, stored.CommitmentDate)
	assert.Equal(t, "2024-03-20", stored.CommitmentDate.Format("2006-01-02"))

	// seven calendar days before 2024-03-15 is still within the threshold
	rec = s.do(t, http.MethodGet, "/api/portfolio/stale", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stale := decode(t, rec).Data.(map[string]interface{})
	ids := []string{}
	for _, l := range stale["loans"].([]interface{}) {
		ids = append(ids, l.(map[string]interface{})["loan_id"].(string))
	}
	assert.Equal(t, []string{"1003"}, ids)

	rec = s.do(t, http.MethodPost, "/api/collection-actions",
		`{"loan_id":"1001","channel":"sms","outcome":"no_answer","action_date":"2024-03-14T16:30:00-05:00"}`, "maria")
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/collection-actions",
		`{"loan_id":"1001","channel":"sms","outcome":"no_answer","action_date":"14/03/2024"}`, "maria")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReportDownload(t *testing.T) {
	s := newTestServer(t)
	s.ingest(t)

	rec := s.do(t, http.MethodGet, "/api/reports/high-risk.csv", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "high-risk_2024-03-15.csv")

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "\ufeff\"PAGARE\",\"NOMBRE\""))
	assert.Contains(t, body, `"1003","Luis Rojas"`)
	assert.NotContains(t, body, `"1001"`)

	rec = s.do(t, http.MethodGet, "/api/reports/unknown.csv", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPresignAndArchive(t *testing.T) {
	s := newTestServer(t)

	s.extracts.On("GeneratePresignedUploadURL", mock.Anything, "cartera.xlsx", "", 0).
		Return(&s3service.PresignedURLResult{URL: "https://s3/put", Key: "uploads/k"}, nil).Once()

	rec := s.do(t, http.MethodPost, "/api/uploads/presign", `{"filename":"cartera.xlsx"}`, "maria")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "uploads/k", decode(t, rec).Data.(map[string]interface{})["key"])

	rec = s.do(t, http.MethodPost, "/api/uploads/presign", `{"filename":"virus.exe"}`, "maria")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	s.extracts.On("ListArchive", mock.Anything, int32(100)).
		Return([]s3service.ArchivedExtract{{Key: "extracts/2024/03/15/b_cartera.csv", Size: 10}}, nil).Once()
	rec = s.do(t, http.MethodGet, "/api/extracts/archive", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec).Data.([]interface{}), 1)

	s.extracts.AssertExpectations(t)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(models.ErrInvalidOutcome))
	assert.Equal(t, http.StatusNotFound, statusFor(models.ErrLoanNotFound))
	assert.Equal(t, http.StatusBadGateway, statusFor(errors.Join(models.ErrStoreWrite, errUnavailable)))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}
