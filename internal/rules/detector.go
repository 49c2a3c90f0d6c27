package rules

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/keeper/internal/domain"
)

// Group is the audit trail of one (user, ip) pair in chronological order.
type Group struct {
	UserID    string
	IPAddress string
	Entries   []*domain.AuditLogEntry
}

// GroupEntries splits entries by (user_id, ip_address). Groups appear in the
// order their first entry was seen. The input slice is not modified.
func GroupEntries(entries []*domain.AuditLogEntry) []Group {
	type key struct{ user, ip string }
	index := make(map[key]int)
	var groups []Group

	for _, e := range entries {
		k := key{e.UserID, e.IPAddress}
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, Group{UserID: e.UserID, IPAddress: e.IPAddress})
		}
		groups[i].Entries = append(groups[i].Entries, e)
	}

	for i := range groups {
		sort.SliceStable(groups[i].Entries, func(a, b int) bool {
			return groups[i].Entries[a].CreatedAt.Before(groups[i].Entries[b].CreatedAt)
		})
	}
	return groups
}

// Features are the per-group measurements the heuristics and custom rules
// are evaluated on.
type Features struct {
	UserID                string
	IPAddress             string
	Actions               int
	FailedLogins          int
	RapidPairs            int
	DistinctResourceTypes int // max within the breadth window
	OffHoursActions       int
	RiskScore             int
	FirstSeen             time.Time
	LastSeen              time.Time
}

// Detector runs the suspicious-activity heuristics over audit entries.
type Detector struct {
	th  Thresholds
	loc *time.Location
}

// NewDetector creates a detector. Hours of day are evaluated in loc.
func NewDetector(th Thresholds, loc *time.Location) *Detector {
	if loc == nil {
		loc = time.UTC
	}
	return &Detector{th: th, loc: loc}
}

// Thresholds returns the detector configuration.
func (d *Detector) Thresholds() Thresholds {
	return d.th
}

// Measure computes the features of one group.
func (d *Detector) Measure(g Group) Features {
	f := Features{UserID: g.UserID, IPAddress: g.IPAddress, Actions: len(g.Entries)}
	if len(g.Entries) == 0 {
		return f
	}
	f.FirstSeen = g.Entries[0].CreatedAt
	f.LastSeen = g.Entries[len(g.Entries)-1].CreatedAt

	for i, e := range g.Entries {
		if e.Action == domain.ActionLoginFailed {
			f.FailedLogins++
		}
		if d.th.OffHours(e.CreatedAt, d.loc) {
			f.OffHoursActions++
		}
		f.RiskScore += d.th.Weight(e.Action)
		if i > 0 {
			gap := e.CreatedAt.Sub(g.Entries[i-1].CreatedAt)
			if gap >= 0 && gap < d.th.RapidGap {
				f.RapidPairs++
			}
		}
	}
	f.DistinctResourceTypes = d.maxBreadth(g.Entries)
	return f
}

// maxBreadth slides a BreadthWindow over the chronological entries and
// returns the largest number of distinct resource types seen at once.
func (d *Detector) maxBreadth(entries []*domain.AuditLogEntry) int {
	counts := make(map[string]int)
	best, lo := 0, 0
	for _, e := range entries {
		if e.ResourceType != "" {
			counts[e.ResourceType]++
		}
		for e.CreatedAt.Sub(entries[lo].CreatedAt) > d.th.BreadthWindow {
			if rt := entries[lo].ResourceType; rt != "" {
				if counts[rt]--; counts[rt] == 0 {
					delete(counts, rt)
				}
			}
			lo++
		}
		if len(counts) > best {
			best = len(counts)
		}
	}
	return best
}

// Detect groups entries by (user, ip), applies every heuristic and returns
// the findings ordered by severity, most severe first. Findings of equal
// severity keep detection order.
func (d *Detector) Detect(entries []*domain.AuditLogEntry) []domain.Finding {
	groups := GroupEntries(entries)
	features := make([]Features, len(groups))
	for i, g := range groups {
		features[i] = d.Measure(g)
	}
	findings := d.Evaluate(features)
	SortBySeverity(findings, func(f domain.Finding) domain.Severity { return f.Severity })
	return findings
}

// Evaluate applies the heuristics to already measured groups, in order.
func (d *Detector) Evaluate(features []Features) []domain.Finding {
	var findings []domain.Finding
	for _, f := range features {
		findings = append(findings, d.evaluateGroup(f)...)
	}
	if d.th.UserRiskScoring {
		findings = append(findings, d.scoreUsers(features)...)
	}
	return findings
}

func (d *Detector) evaluateGroup(f Features) []domain.Finding {
	var out []domain.Finding

	if f.FailedLogins >= d.th.FailedLoginsHigh {
		sev := domain.SeverityHigh
		if f.FailedLogins >= d.th.FailedLoginsCritical {
			sev = domain.SeverityCritical
		}
		out = append(out, newFinding(f, domain.FindingMultipleFailedLogins, sev, f.FailedLogins,
			fmt.Sprintf("%d failed login attempts from %s", f.FailedLogins, displayIP(f.IPAddress))))
	}

	if f.RapidPairs >= d.th.RapidPairs {
		out = append(out, newFinding(f, domain.FindingRapidActions, domain.SeverityMedium, f.RapidPairs,
			fmt.Sprintf("%d actions less than %s apart", f.RapidPairs, d.th.RapidGap)))
	}

	if f.DistinctResourceTypes >= d.th.BreadthResourceTypes {
		out = append(out, newFinding(f, domain.FindingUnusualAccess, domain.SeverityMedium, f.DistinctResourceTypes,
			fmt.Sprintf("%d resource types accessed within %s", f.DistinctResourceTypes, d.th.BreadthWindow)))
	}

	if f.OffHoursActions >= d.th.OffHoursActions {
		out = append(out, newFinding(f, domain.FindingOffHours, domain.SeverityLow, f.OffHoursActions,
			fmt.Sprintf("%d actions outside %02d:00-%02d:00", f.OffHoursActions, d.th.BusinessHoursStart, d.th.BusinessHoursEnd)))
	}

	return out
}

// scoreUsers sums group risk scores per user, across ip addresses.
func (d *Detector) scoreUsers(features []Features) []domain.Finding {
	var order []string
	users := make(map[string]*Features)
	for _, f := range features {
		u, ok := users[f.UserID]
		if !ok {
			cp := f
			cp.IPAddress = ""
			users[f.UserID] = &cp
			order = append(order, f.UserID)
			continue
		}
		u.Actions += f.Actions
		u.RiskScore += f.RiskScore
		if f.FirstSeen.Before(u.FirstSeen) {
			u.FirstSeen = f.FirstSeen
		}
		if f.LastSeen.After(u.LastSeen) {
			u.LastSeen = f.LastSeen
		}
	}

	var out []domain.Finding
	for _, id := range order {
		u := users[id]
		if u.RiskScore < d.th.RiskScoreHigh {
			continue
		}
		sev := domain.SeverityHigh
		if u.RiskScore >= d.th.RiskScoreCritical {
			sev = domain.SeverityCritical
		}
		fd := newFinding(*u, domain.FindingHighRiskUser, sev, u.Actions,
			fmt.Sprintf("risk score %d across %d actions", u.RiskScore, u.Actions))
		fd.Details = map[string]any{"risk_score": u.RiskScore}
		out = append(out, fd)
	}
	return out
}

func newFinding(f Features, typ string, sev domain.Severity, count int, desc string) domain.Finding {
	return domain.Finding{
		ID:          uuid.New().String(),
		Type:        typ,
		Severity:    sev,
		UserID:      f.UserID,
		IPAddress:   f.IPAddress,
		Count:       count,
		Description: desc,
		FirstSeen:   f.FirstSeen,
		LastSeen:    f.LastSeen,
	}
}

func displayIP(ip string) string {
	if ip == "" {
		return "unknown address"
	}
	return ip
}

// SortBySeverity orders items by severity rank, most severe first. The sort
// is stable so equal severities keep their relative order.
func SortBySeverity[T any](items []T, severity func(T) domain.Severity) {
	sort.SliceStable(items, func(i, j int) bool {
		return severity(items[i]).Rank() > severity(items[j]).Rank()
	})
}
