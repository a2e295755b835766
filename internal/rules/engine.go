// Package rules provides the CEL-Go based threshold override engine.
//
// Operators can register boolean expressions over enriched feature
// fields; when one matches, its pinned threshold replaces the value
// chosen by the built-in adaptive policy. Overrides never alter the
// score or the fallback contract.
package rules

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-security/kestrel/internal/domain"
	"github.com/opensource-security/kestrel/internal/features"
)

// Engine is the CEL-based override evaluation engine.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.OverrideRule
	Program cel.Program
}

// NewEngine creates a new override engine. Every schema column of both
// event types is declared as a CEL double variable, so expressions can
// reference enriched fields directly (e.g. "risk_composite > 0.6").
func NewEngine() (*Engine, error) {
	opts := make([]cel.EnvOption, 0, len(features.HandshakeSchema)+len(features.FileSchema))
	for _, name := range featureVariables() {
		opts = append(opts, cel.Variable(name, cel.DoubleType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
	}, nil
}

// featureVariables returns the union of both schemas' column names.
func featureVariables() []string {
	seen := make(map[string]bool)
	var names []string
	for _, s := range [][]string{features.HandshakeSchema, features.FileSchema} {
		for _, name := range s {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(cfg *domain.OverrideRule) error {
	if cfg == nil {
		return fmt.Errorf("override rule is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.OverrideRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiledRules[cfg.ID] = compiled
	return nil
}

// LoadRules compiles and loads multiple rules.
func (e *Engine) LoadRules(configs []*domain.OverrideRule) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules clears all existing rules and loads new ones.
// This enables hot-reloading of overrides from the database.
func (e *Engine) ReloadRules(configs []*domain.OverrideRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.compiledRules = newRules
	return nil
}

// Apply evaluates the loaded overrides for an event type against the
// enriched field map. Rules are evaluated in lexical ID order and the
// first matching rule wins. Returns the matched result, or ok=false
// when no rule matched (or a rule errored; overrides fail open to the
// built-in policy, never to a verdict change).
func (e *Engine) Apply(eventType domain.EventType, fields map[string]float64) (domain.OverrideResult, bool) {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, r := range e.compiledRules {
		if r.Config.EventType == eventType {
			rules = append(rules, r)
		}
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return domain.OverrideResult{}, false
	}

	sort.Slice(rules, func(i, j int) bool {
		return rules[i].Config.ID < rules[j].Config.ID
	})

	activation := e.activation(fields)

	for _, r := range rules {
		out, _, err := r.Program.Eval(activation)
		if err != nil {
			continue
		}
		matched, ok := out.(types.Bool)
		if !ok || !bool(matched) {
			continue
		}

		return domain.OverrideResult{
			RuleID:    r.Config.ID,
			Matched:   true,
			Threshold: r.Config.Threshold,
			Reason:    r.Config.Name,
		}, true
	}

	return domain.OverrideResult{}, false
}

// activation fills every declared variable, defaulting to 0 for
// columns outside this event type's schema.
func (e *Engine) activation(fields map[string]float64) map[string]any {
	activation := make(map[string]any, len(fields))
	for _, name := range featureVariables() {
		activation[name] = fields[name]
	}
	return activation
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// GetLoadedRules returns the currently loaded rule configurations.
func (e *Engine) GetLoadedRules() []*domain.OverrideRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.OverrideRule, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Config)
	}
	return rules
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(cfg *domain.OverrideRule) (*CompiledRule, error) {
	if !cfg.EventType.Valid() {
		return nil, fmt.Errorf("rule %s: unknown event type %q", cfg.ID, cfg.EventType)
	}
	if cfg.Threshold <= 0 || cfg.Threshold >= 1 {
		return nil, fmt.Errorf("rule %s: threshold must be in (0,1), got %v", cfg.ID, cfg.Threshold)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
