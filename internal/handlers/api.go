package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"loan-portfolio-engine/internal/models"
	"loan-portfolio-engine/internal/services/portfolio"
	s3service "loan-portfolio-engine/internal/services/s3"
	"loan-portfolio-engine/internal/utils"
)

// UserHeader carries the identity set by the authenticating proxy.
const UserHeader = "X-User"

// maxUploadSize bounds extract uploads.
const maxUploadSize = 32 << 20

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// PresignedURLRequest represents the request for presigned URL
type PresignedURLRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	ExpiryMins  int    `json:"expiry_minutes"`
}

// HandledRequest toggles a loan's follow-up flag.
type HandledRequest struct {
	Handled bool `json:"handled"`
}

// ExtractStore is the S3 surface used by the API.
type ExtractStore interface {
	GeneratePresignedUploadURL(ctx context.Context, filename, contentType string, expiryMinutes int) (*s3service.PresignedURLResult, error)
	ListArchive(ctx context.Context, maxKeys int32) ([]s3service.ArchivedExtract, error)
}

// API serves the portfolio over HTTP.
type API struct {
	portfolio *portfolio.Service
	extracts  ExtractStore
	health    *HealthHandler
	logger    *zap.Logger
}

// NewAPI creates the HTTP API. extracts may be nil when S3 is not configured.
func NewAPI(svc *portfolio.Service, extracts ExtractStore, health *HealthHandler) *API {
	return &API{
		portfolio: svc,
		extracts:  extracts,
		health:    health,
		logger:    utils.GetLogger(),
	}
}

// Router builds the route table.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(a.logRequests)

	r.HandleFunc("/health", a.healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/health", a.healthHandler).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	// Reads
	api.HandleFunc("/loans", a.listLoansHandler).Methods(http.MethodGet)
	api.HandleFunc("/loans/{loanId}", a.getLoanHandler).Methods(http.MethodGet)
	api.HandleFunc("/portfolio/summary", a.summaryHandler).Methods(http.MethodGet)
	api.HandleFunc("/portfolio/rollover", a.rolloverHandler).Methods(http.MethodGet)
	api.HandleFunc("/portfolio/stale", a.staleHandler).Methods(http.MethodGet)
	api.HandleFunc("/portfolio/due-today", a.dueTodayHandler).Methods(http.MethodGet)
	api.HandleFunc("/portfolio/delinquent", a.delinquentHandler).Methods(http.MethodGet)
	api.HandleFunc("/portfolio/alerts", a.alertsHandler).Methods(http.MethodGet)
	api.HandleFunc("/collection-actions", a.listActionsHandler).Methods(http.MethodGet)
	api.HandleFunc("/reports", a.listReportsHandler).Methods(http.MethodGet)
	api.HandleFunc("/reports/{name}.csv", a.reportHandler).Methods(http.MethodGet)
	api.HandleFunc("/extracts/archive", a.archiveHandler).Methods(http.MethodGet)

	// Writes
	api.Handle("/extracts", a.requireUser(a.uploadHandler)).Methods(http.MethodPost)
	api.Handle("/loans/{loanId}/handled", a.requireUser(a.handledHandler)).Methods(http.MethodPatch)
	api.Handle("/collection-actions", a.requireUser(a.createActionHandler)).Methods(http.MethodPost)
	api.Handle("/collection-actions/{id}", a.requireUser(a.updateActionHandler)).Methods(http.MethodPut)
	api.Handle("/collection-actions/{id}", a.requireUser(a.deleteActionHandler)).Methods(http.MethodDelete)
	api.Handle("/uploads/presign", a.requireUser(a.presignHandler)).Methods(http.MethodPost)

	return r
}

type userKey struct{}

// requireUser rejects mutations that arrive without an identity.
func (a *API) requireUser(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := strings.TrimSpace(r.Header.Get(UserHeader))
		if user == "" {
			writeJSON(w, http.StatusUnauthorized, Response{Success: false, Error: "authentication required"})
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	})
}

func userFrom(ctx context.Context) string {
	user, _ := ctx.Value(userKey{}).(string)
	return user
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrEmptyExtract),
		errors.Is(err, models.ErrNoLoanRecords),
		errors.Is(err, models.ErrUnsupportedFile),
		errors.Is(err, models.ErrEmptyLoanID),
		errors.Is(err, models.ErrInvalidChannel),
		errors.Is(err, models.ErrInvalidOutcome),
		errors.Is(err, models.ErrNegativeAmount):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrLoanNotFound),
		errors.Is(err, models.ErrActionNotFound),
		errors.Is(err, models.ErrUnknownReport):
		return http.StatusNotFound
	case errors.Is(err, models.ErrStoreWrite):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, status, Response{Success: false, Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (a *API) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := a.health.Check(r.Context())
	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func parseBool(raw string) *bool {
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &b
}

func loanFilterFrom(r *http.Request) models.LoanFilter {
	q := r.URL.Query()
	filter := models.LoanFilter{
		Search:        q.Get("search"),
		PaymentForm:   models.PaymentForm(q.Get("payment_form")),
		PaymentPeriod: models.PaymentPeriod(q.Get("payment_period")),
		Handled:       parseBool(q.Get("handled")),
	}
	if c, ok := models.ParseRiskCategory(q.Get("category")); ok {
		filter.Category = c
	}
	if only := parseBool(q.Get("only_overdue")); only != nil {
		filter.OnlyOverdue = *only
	}
	return filter
}

func actionFilterFrom(r *http.Request) models.CollectionActionFilter {
	q := r.URL.Query()
	filter := models.CollectionActionFilter{
		Search: q.Get("search"),
		LoanID: q.Get("loan_id"),
	}
	if raw := q.Get("outcome"); raw != "" {
		if o, err := models.ParseOutcome(raw); err == nil {
			filter.Outcome = o
		}
	}
	return filter
}

func (a *API) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	loans := a.portfolio.ListLoans(loanFilterFrom(r))
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]interface{}{
			"count":       len(loans),
			"cutoff_date": a.portfolio.Snapshot().CutoffDate,
			"loans":       loans,
		},
	})
}

func (a *API) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	loan, history, err := a.portfolio.Loan(mux.Vars(r)["loanId"])
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]interface{}{
			"loan":    loan,
			"history": history,
		},
	})
}

func (a *API) summaryHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: a.portfolio.Summary()})
}

func (a *API) rolloverHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: a.portfolio.Rollover()})
}

func (a *API) staleHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: a.portfolio.Stale()})
}

func (a *API) dueTodayHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: a.portfolio.DueToday()})
}

// delinquentHandler lists overdue loans; ?top=N returns the N largest by principal.
func (a *API) delinquentHandler(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: "top must be a non-negative integer"})
			return
		}
		writeJSON(w, http.StatusOK, Response{Success: true, Data: a.portfolio.TopDelinquent(n)})
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: a.portfolio.Delinquent()})
}

func (a *API) alertsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: a.portfolio.Alerts()})
}

func (a *API) listActionsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: a.portfolio.ListActions(actionFilterFrom(r))})
}

func (a *API) listReportsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: portfolio.ReportNames()})
}

func (a *API) reportHandler(w http.ResponseWriter, r *http.Request) {
	table, err := a.portfolio.Report(mux.Vars(r)["name"], loanFilterFrom(r), actionFilterFrom(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", table.Filename()))
	w.WriteHeader(http.StatusOK)
	if err := utils.WriteCSV(w, table); err != nil {
		a.logger.Warn("Failed to stream report", zap.String("report", table.Name), zap.Error(err))
	}
}

func (a *API) archiveHandler(w http.ResponseWriter, r *http.Request) {
	if a.extracts == nil {
		writeJSON(w, http.StatusOK, Response{Success: true, Data: []s3service.ArchivedExtract{}})
		return
	}
	extracts, err := a.extracts.ListArchive(r.Context(), 100)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: extracts})
}

// uploadHandler accepts a multipart "file" field or a raw text body.
func (a *API) uploadHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	var (
		data     []byte
		filename string
		err      error
	)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: "Failed to parse form: " + err.Error()})
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: "No file provided"})
			return
		}
		defer file.Close()
		filename = header.Filename
		data, err = io.ReadAll(file)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: "Failed to read file"})
			return
		}
	} else {
		filename = r.URL.Query().Get("filename")
		if filename == "" {
			filename = "extract.csv"
		}
		data, err = io.ReadAll(r.Body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: "Failed to read body"})
			return
		}
	}

	a.logger.Info("Extract upload received",
		zap.String("filename", filename),
		zap.Int("size", len(data)),
		zap.String("user", userFrom(r.Context())),
	)

	result, err := a.portfolio.IngestFile(r.Context(), filename, data)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Message: fmt.Sprintf("Loaded %d loans", result.Records),
		Data:    result,
	})
}

func (a *API) handledHandler(w http.ResponseWriter, r *http.Request) {
	var req HandledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: "Invalid request body"})
		return
	}

	loan, err := a.portfolio.SetHandled(r.Context(), mux.Vars(r)["loanId"], req.Handled)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: loan})
}

func actionID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil && id > 0
}

func (a *API) createActionHandler(w http.ResponseWriter, r *http.Request) {
	var in models.CollectionActionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: "Invalid request body"})
		return
	}

	action, err := a.portfolio.CreateAction(r.Context(), &in, userFrom(r.Context()))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, Response{Success: true, Data: action})
}

func (a *API) updateActionHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := actionID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: "Invalid action id"})
		return
	}

	var in models.CollectionActionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: "Invalid request body"})
		return
	}

	action, err := a.portfolio.UpdateAction(r.Context(), id, &in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: action})
}

func (a *API) deleteActionHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := actionID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: "Invalid action id"})
		return
	}

	if err := a.portfolio.DeleteAction(r.Context(), id); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "Collection action deleted"})
}

func (a *API) presignHandler(w http.ResponseWriter, r *http.Request) {
	if a.extracts == nil {
		writeJSON(w, http.StatusServiceUnavailable, Response{Success: false, Error: "Uploads are not configured"})
		return
	}

	var req PresignedURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: "Invalid request body"})
		return
	}
	if _, err := utils.DetectExtractFormat(req.Filename); err != nil || req.Filename == "" {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: "Only .csv, .txt and .xlsx extracts are allowed"})
		return
	}

	result, err := a.extracts.GeneratePresignedUploadURL(r.Context(), req.Filename, req.ContentType, req.ExpiryMins)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: result})
}
