package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/opensource-finance/keeper/internal/auth"
	"github.com/opensource-finance/keeper/internal/report"
)

// Overview handles GET /api/analytics/overview.
func (h *Handler) Overview(w http.ResponseWriter, r *http.Request) {
	q := newQueryParams(r.URL)
	p := report.OverviewParams{
		Timeframe: q.str("timeframe"),
		StartDate: q.date("start_date", false),
		EndDate:   q.date("end_date", true),
	}
	if !h.checkParams(w, r, q, p) {
		return
	}

	out, err := h.reports.Overview(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Financial handles GET /api/analytics/financial.
func (h *Handler) Financial(w http.ResponseWriter, r *http.Request) {
	q := newQueryParams(r.URL)
	p := report.FinancialParams{
		StartDate: q.date("start_date", false),
		EndDate:   q.date("end_date", true),
		Currency:  upper(q.str("currency")),
		GroupBy:   q.str("group_by"),
	}
	if !h.checkParams(w, r, q, p) {
		return
	}

	out, err := h.reports.Financial(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Compliance handles GET /api/analytics/compliance.
func (h *Handler) Compliance(w http.ResponseWriter, r *http.Request) {
	q := newQueryParams(r.URL)
	p := report.ComplianceParams{
		StartDate:  q.date("start_date", false),
		EndDate:    q.date("end_date", true),
		ClientType: q.str("client_type"),
		GroupBy:    q.str("group_by"),
	}
	if !h.checkParams(w, r, q, p) {
		return
	}

	out, err := h.reports.Compliance(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// AuditReport handles POST /api/audit/reports. CSV reports are sent as a
// file download; everything else as JSON.
func (h *Handler) AuditReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body auditReportBody
	if !decodeJSON(w, r, &body) {
		return
	}
	req, err := body.request()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Format == "" {
		req.Format = report.FormatJSON
	}
	if err := h.validate(req); err != nil {
		h.writeError(w, r, err)
		return
	}

	var requestedBy string
	if p, ok := auth.FromContext(ctx); ok {
		requestedBy = p.UserID
	}

	rep, err := h.reports.AuditReport(ctx, req, requestedBy)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if req.Format != report.FormatCSV {
		writeJSON(w, http.StatusOK, rep)
		return
	}

	filename := fmt.Sprintf("audit-report-%s-%s.csv", rep.ReportType, rep.GeneratedAt.Format(time.DateOnly))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if err := rep.WriteCSV(w); err != nil {
		// Status already sent.
		slog.ErrorContext(ctx, "failed to write csv report", "error", err)
	}
}

// Activity handles GET /api/monitoring/activity.
func (h *Handler) Activity(w http.ResponseWriter, r *http.Request) {
	q := newQueryParams(r.URL)
	p := report.ActivityParams{
		Timeframe:    q.str("timeframe"),
		UserID:       q.str("user_id"),
		ActionType:   q.str("action_type"),
		ResourceType: q.str("resource_type"),
		Limit:        q.limit(),
	}
	if !h.checkParams(w, r, q, p) {
		return
	}

	out, err := h.reports.Activity(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Security handles GET /api/monitoring/security.
func (h *Handler) Security(w http.ResponseWriter, r *http.Request) {
	q := newQueryParams(r.URL)
	p := report.SecurityParams{
		Timeframe: q.str("timeframe"),
		Severity:  q.str("severity"),
		EventType: q.str("event_type"),
		Limit:     q.limit(),
	}
	if !h.checkParams(w, r, q, p) {
		return
	}

	out, err := h.reports.Security(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// checkParams reports query parse errors and struct validation failures,
// answering 400 when there are any.
func (h *Handler) checkParams(w http.ResponseWriter, r *http.Request, q *queryParams, params any) bool {
	if err := q.err(); err != nil {
		h.writeError(w, r, err)
		return false
	}
	if err := h.validate(params); err != nil {
		h.writeError(w, r, err)
		return false
	}
	return true
}

// RateLimit caps audit report generation per caller within the configured
// window. Cache failures let the request through.
func (h *Handler) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := h.cfg.ReportRateLimit
		window := h.cfg.ReportRateWindow
		p, ok := auth.FromContext(r.Context())
		if h.cache == nil || limit <= 0 || window <= 0 || !ok {
			next.ServeHTTP(w, r)
			return
		}

		count, err := h.cache.IncrementCounter(r.Context(), "ratelimit:audit:"+p.UserID, window)
		if err != nil {
			slog.WarnContext(r.Context(), "rate limit check failed, allowing request",
				"user_id", p.UserID,
				"error", err,
			)
			next.ServeHTTP(w, r)
			return
		}

		if count > int64(limit) {
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": fmt.Sprintf("audit report limit of %d per %s exceeded", limit, window),
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
