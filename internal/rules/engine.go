// Package rules implements the suspicious-activity heuristics and the
// CEL-Go engine for operator-defined detection rules.
package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/keeper/internal/domain"
)

// Engine evaluates custom detection rules written in CEL.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Rule    *domain.DetectionRule
	Program cel.Program
}

// NewEngine creates a new rule evaluation engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// Variables mirror Features
	env, err := cel.NewEnv(
		cel.Variable("user_id", cel.StringType),
		cel.Variable("ip_address", cel.StringType),
		cel.Variable("actions", cel.IntType),
		cel.Variable("failed_logins", cel.IntType),
		cel.Variable("rapid_pairs", cel.IntType),
		cel.Variable("distinct_resource_types", cel.IntType),
		cel.Variable("off_hours_actions", cel.IntType),
		cel.Variable("risk_score", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(rule *domain.DetectionRule) error {
	if rule == nil {
		return fmt.Errorf("detection rule is required")
	}
	if !rule.Severity.Valid() {
		return fmt.Errorf("rule %s: unknown severity %q", rule.ID, rule.Severity)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(rule)
	return err
}

// UnloadRule removes a rule from the engine.
func (e *Engine) UnloadRule(ruleID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.compiledRules, ruleID)
}

// ReloadRules clears all existing rules and loads the enabled ones given.
// On error the previously loaded set is kept.
func (e *Engine) ReloadRules(rules []*domain.DetectionRule) error {
	newRules := make(map[string]*CompiledRule)

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		compiled, err := e.compileRule(r)
		if err != nil {
			return err
		}
		newRules[r.ID] = compiled
	}

	e.compiledRules = newRules

	return nil
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// Evaluate runs every loaded rule against every group. Groups are evaluated
// in parallel, bounded by maxWorkers; the findings keep group order and
// rule ID order within a group. A rule that fails at runtime is skipped for
// that group.
func (e *Engine) Evaluate(ctx context.Context, features []Features) []domain.Finding {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) == 0 || len(features) == 0 {
		return nil
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Rule.ID < rules[j].Rule.ID })

	results := make([][]domain.Finding, len(features))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i := range features {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			if ctx.Err() != nil {
				return
			}
			results[idx] = e.evaluateGroup(rules, features[idx])
		}(i)
	}

	wg.Wait()

	var out []domain.Finding
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

func (e *Engine) evaluateGroup(rules []*CompiledRule, f Features) []domain.Finding {
	activation := map[string]any{
		"user_id":                 f.UserID,
		"ip_address":              f.IPAddress,
		"actions":                 int64(f.Actions),
		"failed_logins":           int64(f.FailedLogins),
		"rapid_pairs":             int64(f.RapidPairs),
		"distinct_resource_types": int64(f.DistinctResourceTypes),
		"off_hours_actions":       int64(f.OffHoursActions),
		"risk_score":              int64(f.RiskScore),
	}

	var out []domain.Finding
	for _, rule := range rules {
		val, _, err := rule.Program.Eval(activation)
		if err != nil {
			continue
		}
		if matched, ok := val.(types.Bool); !ok || !bool(matched) {
			continue
		}
		fd := newFinding(f, domain.FindingCustomRule, rule.Rule.Severity, f.Actions, rule.Rule.Name)
		if rule.Rule.Description != "" {
			fd.Description = rule.Rule.Name + ": " + rule.Rule.Description
		}
		fd.RuleID = rule.Rule.ID
		out = append(out, fd)
	}
	return out
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(rule *domain.DetectionRule) (*CompiledRule, error) {
	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", rule.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", rule.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.ID, err)
	}

	return &CompiledRule{
		Rule:    rule,
		Program: program,
	}, nil
}
