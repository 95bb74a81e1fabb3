package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/service/router"
)

// ruleView is the JSON shape of a routing rule on the admin surface.
// Predicates are code-side functions, so only the name used to create a
// rule is echoed, never the logic.
type ruleView struct {
	Name        string `json:"name"`
	Priority    int    `json:"priority"`
	Target      string `json:"target"`
	Description string `json:"description,omitempty"`
}

// RulesListHandler returns the effective rule set in evaluation order plus
// the predicate vocabulary accepted by rule creation.
func (s *Server) RulesListHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rules := s.Orch.Rules()
		views := make([]ruleView, 0, len(rules))
		for _, rule := range rules {
			views = append(views, ruleView{
				Name:        rule.Name,
				Priority:    rule.Priority,
				Target:      string(rule.Target),
				Description: rule.Description,
			})
		}
		predicates := router.PredicateNames()
		sort.Strings(predicates)
		writeJSON(w, http.StatusOK, map[string]any{"rules": views, "predicates": predicates})
	}
}

// RuleCreateHandler registers a routing rule built from a named predicate.
func (s *Server) RuleCreateHandler() http.HandlerFunc {
	type createRequest struct {
		Name        string `json:"name" validate:"required,max=100"`
		Priority    int    `json:"priority" validate:"min=0,max=1000"`
		Predicate   string `json:"predicate" validate:"required"`
		Target      string `json:"target" validate:"required"`
		Description string `json:"description" validate:"max=500"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
		var req createRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrValidation), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrValidation), validationDetails(err))
			return
		}
		pred, ok := router.PredicateByName(req.Predicate)
		if !ok {
			known := router.PredicateNames()
			sort.Strings(known)
			writeError(w, r, fmt.Errorf("%w: unknown predicate %q", domain.ErrValidation, req.Predicate),
				map[string]any{"predicates": known})
			return
		}
		rule := router.Rule{
			Name:        req.Name,
			Priority:    req.Priority,
			Predicate:   pred,
			Target:      domain.WorkerKind(req.Target),
			Description: req.Description,
		}
		if err := s.Orch.AddRule(rule); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusCreated, ruleView{
			Name:        rule.Name,
			Priority:    rule.Priority,
			Target:      string(rule.Target),
			Description: rule.Description,
		})
	}
}

// RuleDeleteHandler removes a routing rule by name.
func (s *Server) RuleDeleteHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if err := ValidateIdent("name", name); err != nil {
			writeError(w, r, err, nil)
			return
		}
		if err := s.Orch.RemoveRule(name); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"removed": name})
	}
}

// BudgetHandler reports a user's standing against the monthly budget.
func (s *Server) BudgetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userId")
		if err := ValidateIdent("userId", userID); err != nil {
			writeError(w, r, err, nil)
			return
		}
		status, err := s.Orch.Budget(r.Context(), userID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

// StatsHandler returns usage aggregates for a user, optionally narrowed by
// from/to (RFC 3339) and worker query parameters.
func (s *Server) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userId")
		if err := ValidateIdent("userId", userID); err != nil {
			writeError(w, r, err, nil)
			return
		}
		filter, err := parseStatsFilter(r.URL.Query())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		stats, err := s.Orch.UsageStats(r.Context(), userID, filter)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func parseStatsFilter(q url.Values) (domain.StatsFilter, error) {
	var f domain.StatsFilter
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("%w: from must be RFC 3339", domain.ErrValidation)
		}
		f.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("%w: to must be RFC 3339", domain.ErrValidation)
		}
		f.To = t
	}
	if v := q.Get("worker"); v != "" {
		kind := domain.WorkerKind(v)
		if !kind.Valid() {
			return f, fmt.Errorf("%w: unknown worker %q", domain.ErrValidation, v)
		}
		f.WorkerKind = kind
	}
	return f, nil
}
