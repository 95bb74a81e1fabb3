package router

import "github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"

// namedPredicates is the vocabulary the rules file can reference. Keeping
// predicates code-side means a hot-reloaded file can never inject logic,
// only recombine known conditions.
var namedPredicates = map[string]func(domain.RoutingContext) bool{
	"always": func(domain.RoutingContext) bool { return true },
	"new_conversation": func(rc domain.RoutingContext) bool {
		return rc.RequestType == domain.RequestNewConversation
	},
	"continue_conversation": func(rc domain.RoutingContext) bool {
		return rc.RequestType == domain.RequestContinueConversation
	},
	"phase_transition": func(rc domain.RoutingContext) bool {
		return rc.RequestType == domain.RequestPhaseTransition
	},
	"long_content": func(rc domain.RoutingContext) bool {
		return rc.ContentLength > 500
	},
	"multi_phase": func(rc domain.RoutingContext) bool {
		return len(rc.PreviousPhases) >= 2
	},
	"has_completed_ideation": func(rc domain.RoutingContext) bool {
		return rc.HasCompletedPhase(domain.WorkerIdeation)
	},
	"has_completed_refinement": func(rc domain.RoutingContext) bool {
		return rc.HasCompletedPhase(domain.WorkerRefiner)
	},
	"prefers_ideation": func(rc domain.RoutingContext) bool {
		return rc.PreferredWorker == domain.WorkerIdeation
	},
	"prefers_refiner": func(rc domain.RoutingContext) bool {
		return rc.PreferredWorker == domain.WorkerRefiner
	},
	"prefers_media": func(rc domain.RoutingContext) bool {
		return rc.PreferredWorker == domain.WorkerMedia
	},
	"prefers_factchecker": func(rc domain.RoutingContext) bool {
		return rc.PreferredWorker == domain.WorkerFactChecker
	},
	"last_worker_media": func(rc domain.RoutingContext) bool {
		return rc.LastWorker == domain.WorkerMedia
	},
}

// PredicateByName resolves a rules-file predicate name.
func PredicateByName(name string) (func(domain.RoutingContext) bool, bool) {
	p, ok := namedPredicates[name]
	return p, ok
}

// PredicateNames lists the registry for diagnostics and admin responses.
func PredicateNames() []string {
	names := make([]string, 0, len(namedPredicates))
	for name := range namedPredicates {
		names = append(names, name)
	}
	return names
}
