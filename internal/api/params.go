package api

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/opensource-finance/keeper/internal/domain"
	"github.com/opensource-finance/keeper/internal/report"
)

// newValidator reports fields by their wire names: the json tag when there
// is one, the snake_case field name otherwise.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name, _, _ := strings.Cut(f.Tag.Get("json"), ","); name != "" && name != "-" {
			return name
		}
		return snakeCase(f.Name)
	})
	return v
}

// validate checks s against its struct tags.
func (h *Handler) validate(s any) error {
	err := h.validator.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	verr := &domain.ValidationError{}
	for _, fe := range fieldErrs {
		verr.Add(fe.Field(), validationMessage(fe))
	}
	return verr
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "len":
		return fmt.Sprintf("must be %s characters", fe.Param())
	case "alpha":
		return "must contain letters only"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gtefield":
		return "must not be before " + snakeCase(fe.Param())
	default:
		return "failed " + fe.Tag() + " validation"
	}
}

func snakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) && i > 0 {
			prevLower := unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || (nextLower && unicode.IsUpper(runes[i-1])) {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// parseDate accepts RFC 3339 timestamps or plain dates. A plain end date
// covers that whole day, so it resolves to the following midnight.
func parseDate(raw string, end bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, errors.New("must be an RFC 3339 timestamp or YYYY-MM-DD date")
	}
	if end {
		t = t.AddDate(0, 0, 1)
	}
	return t, nil
}

// queryParams collects parse errors across a request's query string.
type queryParams struct {
	values url.Values
	errs   *domain.ValidationError
}

func newQueryParams(r *url.URL) *queryParams {
	return &queryParams{values: r.Query(), errs: &domain.ValidationError{}}
}

func (q *queryParams) str(name string) string {
	return strings.TrimSpace(q.values.Get(name))
}

func (q *queryParams) date(name string, end bool) *time.Time {
	raw := q.str(name)
	if raw == "" {
		return nil
	}
	t, err := parseDate(raw, end)
	if err != nil {
		q.errs.Add(name, err.Error())
		return nil
	}
	return &t
}

// limit parses a list size in [1, MaxListLimit], defaulting when absent.
func (q *queryParams) limit() int {
	raw := q.str("limit")
	if raw == "" {
		return report.DefaultListLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > report.MaxListLimit {
		q.errs.Add("limit", fmt.Sprintf("must be an integer between 1 and %d", report.MaxListLimit))
		return 0
	}
	return n
}

func (q *queryParams) err() error {
	if q.errs.HasErrors() {
		return q.errs
	}
	return nil
}

// auditReportBody is the wire form of an audit report request. Dates are
// parsed by parseDate rather than encoding/json so plain dates work.
type auditReportBody struct {
	ReportType     string   `json:"report_type"`
	StartDate      string   `json:"start_date"`
	EndDate        string   `json:"end_date"`
	UserIDs        []string `json:"user_ids"`
	Actions        []string `json:"actions"`
	ResourceTypes  []string `json:"resource_types"`
	IncludeDetails bool     `json:"include_details"`
	Format         string   `json:"format"`
	GroupBy        string   `json:"group_by"`
}

func (b auditReportBody) request() (report.AuditReportRequest, error) {
	req := report.AuditReportRequest{
		ReportType:     b.ReportType,
		UserIDs:        b.UserIDs,
		Actions:        b.Actions,
		ResourceTypes:  b.ResourceTypes,
		IncludeDetails: b.IncludeDetails,
		Format:         strings.ToLower(b.Format),
		GroupBy:        b.GroupBy,
	}

	verr := &domain.ValidationError{}
	if b.StartDate != "" {
		t, err := parseDate(b.StartDate, false)
		if err != nil {
			verr.Add("start_date", err.Error())
		}
		req.StartDate = t
	}
	if b.EndDate != "" {
		t, err := parseDate(b.EndDate, true)
		if err != nil {
			verr.Add("end_date", err.Error())
		}
		req.EndDate = t
	}
	if verr.HasErrors() {
		return req, verr
	}
	return req, nil
}
