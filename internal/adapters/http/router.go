package httpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkaminski/docledger/internal/core/domain"
	"github.com/pkaminski/docledger/internal/core/ports"
	"github.com/pkaminski/docledger/internal/observability/metrics"
)

// reportService is the dashboard/export surface the router needs.
type reportService interface {
	Stats(ctx context.Context) (*domain.DashboardStats, error)
	ExportReport(ctx context.Context) ([]byte, error)
}

// Options carries the traffic-control knobs for the public surface.
type Options struct {
	ServiceName     string
	UploadRateLimit int
	UploadRateBurst int
	MaxInFlight     int
	CapacityWait    time.Duration
}

type Router struct {
	opts       Options
	ingest     ports.DocumentIngestor
	extraction ports.ExtractionReceiver
	review     ports.ReviewService
	repo       ports.DocumentReader
	reports    reportService
	metrics    *metrics.HTTPServerMetrics
}

func NewRouter(
	opts Options,
	ingest ports.DocumentIngestor,
	extraction ports.ExtractionReceiver,
	review ports.ReviewService,
	repo ports.DocumentReader,
	reports reportService,
	m *metrics.HTTPServerMetrics,
) *Router {
	if opts.ServiceName == "" {
		opts.ServiceName = "docledger-api"
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 64
	}
	if opts.CapacityWait <= 0 {
		opts.CapacityWait = 2 * time.Second
	}
	return &Router{
		opts:       opts,
		ingest:     ingest,
		extraction: extraction,
		review:     review,
		repo:       repo,
		reports:    reports,
		metrics:    m,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)

	uploads := http.HandlerFunc(rt.uploadDocument)
	checks := http.HandlerFunc(rt.checkDuplicate)
	uploadGate := func(next http.Handler) http.Handler {
		next = backpressureMiddleware(next, rt.opts.MaxInFlight, rt.opts.CapacityWait)
		return rateLimitMiddleware(next, rt.opts.UploadRateLimit, rt.opts.UploadRateBurst)
	}
	mux.Handle("POST /v1/documents", uploadGate(uploads))
	mux.Handle("POST /v1/documents/check", uploadGate(checks))

	mux.HandleFunc("GET /v1/documents", rt.listDocuments)
	mux.HandleFunc("GET /v1/documents/{id}", rt.getDocument)
	mux.HandleFunc("POST /v1/documents/{id}/extraction", rt.submitExtraction)
	mux.HandleFunc("POST /v1/documents/{id}/fields/{name}", rt.correctField)
	mux.HandleFunc("POST /v1/documents/{id}/finalize", rt.finalizeDocument)
	mux.HandleFunc("GET /v1/reviews", rt.listReviews)
	mux.HandleFunc("GET /v1/stats/dashboard", rt.dashboardStats)
	mux.HandleFunc("GET /v1/reports/export", rt.exportReport)

	var handler http.Handler = mux
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
		handler = rt.metrics.Middleware(rt.opts.ServiceName, handler)
	}
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type uploadResponse struct {
	Document       *domain.Document        `json:"document"`
	DuplicateCheck domain.DuplicateVerdict `json:"duplicate_check"`
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	force := parseBool(r.FormValue("force")) || parseBool(r.URL.Query().Get("force"))

	doc, verdict, err := rt.ingest.Ingest(
		r.Context(),
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		file,
		force,
	)
	if verdict.Match != "" && verdict.Match != domain.MatchNone && rt.metrics != nil {
		rt.metrics.ObserveDuplicate(rt.opts.ServiceName, string(verdict.Match))
	}
	if err != nil {
		if domain.IsKind(err, domain.ErrDuplicateContent) && doc != nil {
			rt.observeIngest("duplicate")
			writeJSON(w, http.StatusConflict, uploadResponse{Document: doc, DuplicateCheck: verdict})
			return
		}
		rt.observeIngest("error")
		rt.respondError(w, r, err)
		return
	}

	rt.observeIngest("accepted")
	writeJSON(w, http.StatusAccepted, uploadResponse{Document: doc, DuplicateCheck: verdict})
}

func (rt *Router) checkDuplicate(w http.ResponseWriter, r *http.Request) {
	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	verdict, err := rt.ingest.CheckDuplicate(r.Context(), fileHeader.Filename, file)
	if err != nil {
		rt.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, verdict)
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := rt.pathID(w, r)
	if !ok {
		return
	}
	doc, err := rt.repo.GetByID(r.Context(), id)
	if err != nil {
		rt.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) listDocuments(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.ListFilter{
		Status:     domain.DocumentStatus(query.Get("status")),
		VendorName: query.Get("vendor"),
	}
	if v := query.Get("needs_review"); v != "" {
		needs := parseBool(v)
		filter.NeedsReview = &needs
	}
	if v := query.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		filter.Limit = limit
	}
	if v := query.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "offset must be a non-negative integer"})
			return
		}
		filter.Offset = offset
	}

	docs, err := rt.repo.List(r.Context(), filter)
	if err != nil {
		rt.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "count": len(docs)})
}

type extractionRequest struct {
	Fields    []domain.FieldResult `json:"fields"`
	LineItems []domain.LineItem    `json:"line_items"`
}

func (rt *Router) submitExtraction(w http.ResponseWriter, r *http.Request) {
	id, ok := rt.pathID(w, r)
	if !ok {
		return
	}

	var req extractionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if len(req.Fields) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "at least one field result is required"})
		return
	}

	if err := rt.extraction.SubmitExtraction(r.Context(), id, req.Fields, req.LineItems); err != nil {
		rt.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

type correctionRequest struct {
	Value       string `json:"value"`
	CorrectedBy string `json:"corrected_by"`
}

func (rt *Router) correctField(w http.ResponseWriter, r *http.Request) {
	id, ok := rt.pathID(w, r)
	if !ok {
		return
	}
	fieldName := r.PathValue("name")

	var req correctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.CorrectedBy) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "corrected_by is required"})
		return
	}

	if err := rt.review.CorrectField(r.Context(), id, fieldName, req.Value, req.CorrectedBy); err != nil {
		rt.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "corrected"})
}

func (rt *Router) finalizeDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := rt.pathID(w, r)
	if !ok {
		return
	}
	if err := rt.review.Finalize(r.Context(), id); err != nil {
		rt.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "finalized"})
}

func (rt *Router) listReviews(w http.ResponseWriter, r *http.Request) {
	docs, err := rt.review.ListNeedingReview(r.Context())
	if err != nil {
		rt.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "count": len(docs)})
}

func (rt *Router) dashboardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := rt.reports.Stats(r.Context())
	if err != nil {
		rt.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (rt *Router) exportReport(w http.ResponseWriter, r *http.Request) {
	payload, err := rt.reports.ExportReport(r.Context())
	if err != nil {
		rt.respondError(w, r, err)
		return
	}
	filename := fmt.Sprintf("docledger-report-%s.xlsx", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (rt *Router) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "document id must be a positive integer"})
		return 0, false
	}
	return id, true
}

func (rt *Router) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= 500 {
		slog.Error("request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (rt *Router) observeIngest(outcome string) {
	if rt.metrics != nil {
		rt.metrics.ObserveIngest(rt.opts.ServiceName, outcome)
	}
}

func parseBool(v string) bool {
	parsed, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && parsed
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
