package postgres

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
)

// ProjectRepo reads project and user state owned by the wider product.
// The orchestrator never writes these tables.
type ProjectRepo struct{ Pool PgxPool }

// NewProjectRepo constructs a ProjectRepo with the given pool.
func NewProjectRepo(p PgxPool) *ProjectRepo { return &ProjectRepo{Pool: p} }

// Get loads a project with its phases, newest phase last.
func (r *ProjectRepo) Get(ctx domain.Context, id string) (domain.Project, error) {
	tracer := otel.Tracer("repo.projects")
	ctx, span := tracer.Start(ctx, "projects.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "projects"),
	)

	q := `SELECT id, user_id, status, COALESCE(content,''), updated_at FROM projects WHERE id=$1`
	var p domain.Project
	if err := r.Pool.QueryRow(ctx, q, id).Scan(&p.ID, &p.UserID, &p.Status, &p.Content, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Project{}, fmt.Errorf("op=projects.get: %w", domain.ErrNotFound)
		}
		return domain.Project{}, fmt.Errorf("op=projects.get: %w", err)
	}

	phases, err := r.phases(ctx, id)
	if err != nil {
		return domain.Project{}, err
	}
	p.Phases = phases
	return p, nil
}

func (r *ProjectRepo) phases(ctx domain.Context, projectID string) ([]domain.Phase, error) {
	q := `SELECT id, kind, status, created_at, completed_at, outputs
	      FROM project_phases WHERE project_id=$1 ORDER BY created_at ASC`
	rows, err := r.Pool.Query(ctx, q, projectID)
	if err != nil {
		return nil, fmt.Errorf("op=projects.phases: %w", err)
	}
	defer rows.Close()

	var out []domain.Phase
	for rows.Next() {
		var (
			ph      domain.Phase
			outputs []byte
		)
		if err := rows.Scan(&ph.ID, &ph.Kind, &ph.Status, &ph.CreatedAt, &ph.CompletedAt, &outputs); err != nil {
			return nil, fmt.Errorf("op=projects.phases: scan: %w", err)
		}
		if len(outputs) > 0 {
			if err := json.Unmarshal(outputs, &ph.Outputs); err != nil {
				return nil, fmt.Errorf("op=projects.phases: unmarshal outputs: %w", err)
			}
		}
		out = append(out, ph)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=projects.phases: rows: %w", err)
	}
	return out, nil
}

// Preferences loads a user's writing preferences; absent rows fall back to
// neutral defaults rather than erroring.
func (r *ProjectRepo) Preferences(ctx domain.Context, userID string) (domain.UserPreferences, error) {
	tracer := otel.Tracer("repo.projects")
	ctx, span := tracer.Start(ctx, "projects.Preferences")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "user_preferences"),
	)

	q := `SELECT personality, genres, experience FROM user_preferences WHERE user_id=$1`
	var (
		prefs  domain.UserPreferences
		genres []byte
	)
	if err := r.Pool.QueryRow(ctx, q, userID).Scan(&prefs.Personality, &genres, &prefs.Experience); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.UserPreferences{Personality: "casual", Experience: "intermediate"}, nil
		}
		return domain.UserPreferences{}, fmt.Errorf("op=projects.preferences: %w", err)
	}
	if len(genres) > 0 {
		if err := json.Unmarshal(genres, &prefs.Genres); err != nil {
			return domain.UserPreferences{}, fmt.Errorf("op=projects.preferences: unmarshal genres: %w", err)
		}
	}
	return prefs, nil
}

// StyleGuide loads a project's optional style guide; nil when unset.
func (r *ProjectRepo) StyleGuide(ctx domain.Context, projectID string) (*domain.StyleGuide, error) {
	tracer := otel.Tracer("repo.projects")
	ctx, span := tracer.Start(ctx, "projects.StyleGuide")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "style_guides"),
	)

	q := `SELECT reference_writers, tone, target_audience, COALESCE(example_text,'') FROM style_guides WHERE project_id=$1`
	var (
		sg      domain.StyleGuide
		writers []byte
	)
	if err := r.Pool.QueryRow(ctx, q, projectID).Scan(&writers, &sg.Tone, &sg.TargetAudience, &sg.ExampleText); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("op=projects.style_guide: %w", err)
	}
	if len(writers) > 0 {
		if err := json.Unmarshal(writers, &sg.ReferenceWriters); err != nil {
			return nil, fmt.Errorf("op=projects.style_guide: unmarshal writers: %w", err)
		}
	}
	return &sg, nil
}
