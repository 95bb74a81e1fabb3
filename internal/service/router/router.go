// Package router picks the worker for a request by scanning prioritized
// rules. Reads are lock-free over an atomic.Pointer-swapped slice; writers
// rebuild and swap under a mutex (copy-on-write).
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/config"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
)

// HealthView answers whether a worker can take a dispatch right now.
// The worker registry implements it (breaker state + cached health probe).
type HealthView interface {
	Healthy(ctx context.Context, kind domain.WorkerKind) bool
}

// Rule is one routing decision candidate. Target may be the
// current_phase sentinel, resolved against the routing context at scan
// time.
type Rule struct {
	Name        string
	Priority    int
	Predicate   func(domain.RoutingContext) bool
	Target      domain.WorkerKind
	Description string
}

const fallbackRuleName = "fallback"

// Router scans rules by descending priority and returns the first match
// whose resolved target is healthy.
type Router struct {
	health HealthView

	mu        sync.Mutex
	base      []Rule // defaults + admin mutations
	fileRules []Rule // from the rules file, replaced wholesale on reload
	effective atomic.Pointer[[]Rule]
}

// New builds a Router with the default rule set. fallback names the
// lowest-priority target; empty means ideation.
func New(health HealthView, fallback domain.WorkerKind) *Router {
	if !fallback.Valid() {
		fallback = domain.WorkerIdeation
	}
	r := &Router{health: health, base: defaultRules(fallback)}
	r.rebuildLocked()
	return r
}

func defaultRules(fallback domain.WorkerKind) []Rule {
	return []Rule{
		{
			Name:     "new_ideation",
			Priority: 100,
			Predicate: func(rc domain.RoutingContext) bool {
				return rc.CurrentPhase == domain.WorkerIdeation && rc.RequestType == domain.RequestNewConversation
			},
			Target:      domain.WorkerIdeation,
			Description: "new conversations during ideation stay with ideation",
		},
		{
			Name:     "refinement",
			Priority: 90,
			Predicate: func(rc domain.RoutingContext) bool {
				return rc.CurrentPhase == domain.WorkerRefiner || rc.HasCompletedPhase(domain.WorkerIdeation)
			},
			Target:      domain.WorkerRefiner,
			Description: "refine once ideation has produced something",
		},
		{
			Name:     "media_continuity",
			Priority: 80,
			Predicate: func(rc domain.RoutingContext) bool {
				return rc.CurrentPhase == domain.WorkerMedia ||
					(rc.RequestType == domain.RequestContinueConversation && rc.LastWorker == domain.WorkerMedia)
			},
			Target:      domain.WorkerMedia,
			Description: "keep media conversations with the media worker",
		},
		{
			Name:     "fact_check_depth",
			Priority: 70,
			Predicate: func(rc domain.RoutingContext) bool {
				return rc.CurrentPhase == domain.WorkerFactChecker ||
					(len(rc.PreviousPhases) >= 2 && rc.ContentLength > 500)
			},
			Target:      domain.WorkerFactChecker,
			Description: "substantial multi-phase content gets fact checked",
		},
		{
			Name:     "phase_transition",
			Priority: 60,
			Predicate: func(rc domain.RoutingContext) bool {
				return rc.RequestType == domain.RequestPhaseTransition
			},
			Target:      domain.WorkerCurrentPhase,
			Description: "phase transitions dispatch to the project's active phase",
		},
		{
			Name:        fallbackRuleName,
			Priority:    0,
			Predicate:   func(domain.RoutingContext) bool { return true },
			Target:      fallback,
			Description: "catch-all",
		},
	}
}

// Route returns the first healthy match. Unhealthy targets fall through
// to lower-priority rules; no healthy match at all is NoAgentAvailable.
func (r *Router) Route(ctx context.Context, rc domain.RoutingContext) (domain.WorkerKind, error) {
	rules := *r.effective.Load()
	for i := range rules {
		rule := &rules[i]
		if rule.Predicate == nil || !rule.Predicate(rc) {
			continue
		}
		target := rule.Target
		if target == domain.WorkerCurrentPhase {
			target = rc.CurrentPhase
		}
		if !target.Valid() {
			continue
		}
		if !r.health.Healthy(ctx, target) {
			slog.DebugContext(ctx, "routing rule target unhealthy, falling through",
				slog.String("rule", rule.Name), slog.String("target", string(target)))
			continue
		}
		slog.DebugContext(ctx, "routed",
			slog.String("rule", rule.Name), slog.String("worker", string(target)))
		return target, nil
	}
	return "", fmt.Errorf("op=router.route: %w", domain.ErrNoAgentAvailable)
}

// Rules returns the effective rule set in evaluation order.
func (r *Router) Rules() []Rule {
	rules := *r.effective.Load()
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// AddRule registers a rule. Names must be unique across the effective set.
func (r *Router) AddRule(rule Rule) error {
	if rule.Name == "" {
		return fmt.Errorf("op=router.add_rule: %w: rule name required", domain.ErrValidation)
	}
	if rule.Predicate == nil {
		return fmt.Errorf("op=router.add_rule: %w: rule %q has no predicate", domain.ErrValidation, rule.Name)
	}
	if !rule.Target.Valid() && rule.Target != domain.WorkerCurrentPhase {
		return fmt.Errorf("op=router.add_rule: %w: rule %q target %q unknown", domain.ErrValidation, rule.Name, rule.Target)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findLocked(rule.Name) != nil {
		return fmt.Errorf("op=router.add_rule: %w: rule %q already exists", domain.ErrValidation, rule.Name)
	}
	r.base = append(r.base, rule)
	r.rebuildLocked()
	slog.Info("routing rule added", slog.String("rule", rule.Name), slog.Int("priority", rule.Priority))
	return nil
}

// RemoveRule drops a rule by name from whichever layer holds it.
func (r *Router) RemoveRule(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if removed := removeByName(&r.base, name); !removed {
		if removed = removeByName(&r.fileRules, name); !removed {
			return fmt.Errorf("op=router.remove_rule: %w: rule %q", domain.ErrNotFound, name)
		}
	}
	r.rebuildLocked()
	slog.Info("routing rule removed", slog.String("rule", name))
	return nil
}

// ApplyFile swaps in the rules-file layer. Invalid files leave the router
// untouched so the watcher can keep the last good configuration.
func (r *Router) ApplyFile(rf *config.RoutingFile) error {
	if rf == nil {
		return nil
	}

	var fileRules []Rule
	for _, spec := range rf.Rules {
		if spec.Disabled {
			continue
		}
		pred, ok := PredicateByName(spec.Predicate)
		if !ok {
			return fmt.Errorf("op=router.apply_file: %w: rule %q predicate %q unknown", domain.ErrValidation, spec.Name, spec.Predicate)
		}
		target := domain.WorkerKind(spec.Target)
		if !target.Valid() && target != domain.WorkerCurrentPhase {
			return fmt.Errorf("op=router.apply_file: %w: rule %q target %q unknown", domain.ErrValidation, spec.Name, spec.Target)
		}
		fileRules = append(fileRules, Rule{
			Name:        spec.Name,
			Priority:    spec.Priority,
			Predicate:   pred,
			Target:      target,
			Description: spec.Description,
		})
	}

	fallback := domain.WorkerKind(rf.FallbackWorker)
	if rf.FallbackWorker != "" && !fallback.Valid() {
		return fmt.Errorf("op=router.apply_file: %w: fallback worker %q unknown", domain.ErrValidation, rf.FallbackWorker)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.fileRules = fileRules
	if fallback.Valid() {
		for i := range r.base {
			if r.base[i].Name == fallbackRuleName {
				r.base[i].Target = fallback
			}
		}
	}
	r.rebuildLocked()
	slog.Info("routing rules file applied", slog.Int("file_rules", len(fileRules)))
	return nil
}

func (r *Router) findLocked(name string) *Rule {
	for i := range r.base {
		if r.base[i].Name == name {
			return &r.base[i]
		}
	}
	for i := range r.fileRules {
		if r.fileRules[i].Name == name {
			return &r.fileRules[i]
		}
	}
	return nil
}

func removeByName(rules *[]Rule, name string) bool {
	for i := range *rules {
		if (*rules)[i].Name == name {
			*rules = append((*rules)[:i], (*rules)[i+1:]...)
			return true
		}
	}
	return false
}

// rebuildLocked merges both layers into a fresh priority-sorted slice and
// publishes it. Callers hold r.mu (except New, where no reader exists yet).
func (r *Router) rebuildLocked() {
	merged := make([]Rule, 0, len(r.base)+len(r.fileRules))
	merged = append(merged, r.base...)
	merged = append(merged, r.fileRules...)
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Priority > merged[j].Priority })
	r.effective.Store(&merged)
}
