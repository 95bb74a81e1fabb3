package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/config"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/service/router"
)

// Orchestrator is the processing and admin surface the HTTP layer drives.
type Orchestrator interface {
	Process(ctx context.Context, req domain.Request) (*domain.Response, error)
	Rules() []router.Rule
	AddRule(rule router.Rule) error
	RemoveRule(name string) error
	Budget(ctx context.Context, userID string) (domain.BudgetStatus, error)
	UsageStats(ctx context.Context, userID string, f domain.StatsFilter) (domain.UsageStats, error)
}

// Server aggregates handler dependencies.
type Server struct {
	Cfg        config.Config
	Orch       Orchestrator
	DBCheck    func(ctx context.Context) error
	RedisCheck func(ctx context.Context) error
	KafkaCheck func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, orch Orchestrator, dbCheck, redisCheck, kafkaCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Orch: orch, DBCheck: dbCheck, RedisCheck: redisCheck, KafkaCheck: kafkaCheck}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// acceptJSON rejects requests that explicitly refuse JSON responses.
// Returns false after writing 406 when the Accept header excludes JSON.
func acceptJSON(w http.ResponseWriter, r *http.Request) bool {
	a := r.Header.Get("Accept")
	if a == "" || a == "*/*" || strings.Contains(a, "application/json") {
		return true
	}
	writeJSON(w, http.StatusNotAcceptable, errorEnvelope{Error: apiError{
		Code:    "VALIDATION",
		Message: "not acceptable",
		Details: map[string]any{"accept": a},
	}})
	return false
}

// validationDetails flattens validator errors into a field -> tag map.
func validationDetails(err error) map[string]string {
	verrs := map[string]string{}
	if ve, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range ve {
			verrs[strings.ToLower(fe.Field())] = fe.Tag()
		}
	}
	return verrs
}

// processRequest is the POST /v1/process body.
type processRequest struct {
	UserID          string         `json:"user_id" validate:"required,max=100"`
	ProjectID       string         `json:"project_id" validate:"required,max=100"`
	ConversationID  string         `json:"conversation_id" validate:"omitempty,max=100"`
	Content         string         `json:"content" validate:"required"`
	PreferredWorker string         `json:"preferred_worker" validate:"omitempty,oneof=ideation refiner media factchecker"`
	Options         map[string]any `json:"options"`
}

// processEnvelope wraps a worker response with the identifiers the client
// needs to continue the conversation.
type processEnvelope struct {
	RequestID      string           `json:"request_id"`
	ConversationID string           `json:"conversation_id"`
	Response       *domain.Response `json:"response"`
}

// ProcessHandler runs one writing request through the orchestrator.
func (s *Server) ProcessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptJSON(w, r) {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB
		var req processRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrValidation), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrValidation), validationDetails(err))
			return
		}
		if max := s.Cfg.MaxContentLength; max > 0 && len(req.Content) > max {
			writeError(w, r, fmt.Errorf("%w: content exceeds %d characters", domain.ErrValidation, max),
				map[string]any{"max_content_length": max, "content_length": len(req.Content)})
			return
		}

		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		// A missing conversation id starts a fresh conversation; the minted
		// id is echoed so follow-up requests can continue it.
		conversationID := req.ConversationID
		if conversationID == "" {
			conversationID = uuid.NewString()
		}

		resp, err := s.Orch.Process(r.Context(), domain.Request{
			ID:              requestID,
			UserID:          req.UserID,
			ProjectID:       req.ProjectID,
			ConversationID:  conversationID,
			Content:         req.Content,
			PreferredWorker: domain.WorkerKind(req.PreferredWorker),
			Options:         req.Options,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, processEnvelope{
			RequestID:      requestID,
			ConversationID: conversationID,
			Response:       resp,
		})
	}
}

// ReadyzHandler probes Postgres, Redis and Kafka.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		probes := []struct {
			name string
			fn   func(context.Context) error
		}{
			{"db", s.DBCheck},
			{"redis", s.RedisCheck},
			{"kafka", s.KafkaCheck},
		}
		checks := make([]check, 0, len(probes))
		ok := true
		for _, p := range probes {
			if p.fn == nil {
				continue
			}
			if err := p.fn(ctx); err != nil {
				checks = append(checks, check{Name: p.name, OK: false, Details: err.Error()})
				ok = false
			} else {
				checks = append(checks, check{Name: p.name, OK: true})
			}
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}
