package worker

import "github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"

const ideationRole = "You are the ideation specialist in a collaborative writing studio. " +
	"Generate concrete, distinct directions for the writer's request: angles, premises, " +
	"outlines, hooks and working titles. Offer a handful of options and make each one " +
	"actionable rather than abstract."

// Ideation is the brainstorming role.
type Ideation struct {
	base
}

// NewIdeation builds the ideation worker.
func NewIdeation(llm domain.LLMClient, maxContent int) *Ideation {
	return &Ideation{base: newBase(domain.WorkerIdeation, llm, maxContent, 0.7)}
}

// BuildSystemContext implements domain.Worker.
func (w *Ideation) BuildSystemContext(ec domain.EnrichedContext) string {
	return systemContext(ideationRole, ec)
}

// Process implements domain.Worker.
func (w *Ideation) Process(ctx domain.Context, req domain.Request, ec domain.EnrichedContext, spec domain.CallSpec) (*domain.Response, error) {
	next := []string{"Pick the direction that excites you most", "Ask the refiner to turn it into a draft plan"}
	if ec.ProjectContent != "" {
		next = []string{"Compare the new angles against your current draft", "Fold the strongest idea into the draft"}
	}
	return w.complete(ctx, req, spec, next, []domain.Suggestion{
		{
			Kind:        domain.SuggestionAction,
			Title:       "Develop the strongest idea",
			Description: "Choose one direction and expand it into a working outline before moving on.",
			Priority:    "high",
		},
	})
}
