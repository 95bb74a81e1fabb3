package worker

import "github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"

const refinerRole = "You are the refinement specialist in a collaborative writing studio. " +
	"Improve the writer's draft: structure, clarity, pacing and word choice. Preserve the " +
	"writer's voice, keep their intent, and note the significant edits you made in one short " +
	"list at the end."

// Refiner is the editing role.
type Refiner struct {
	base
}

// NewRefiner builds the refiner worker.
func NewRefiner(llm domain.LLMClient, maxContent int) *Refiner {
	return &Refiner{base: newBase(domain.WorkerRefiner, llm, maxContent, 0.8)}
}

// BuildSystemContext implements domain.Worker.
func (w *Refiner) BuildSystemContext(ec domain.EnrichedContext) string {
	return systemContext(refinerRole, ec)
}

// Process implements domain.Worker.
func (w *Refiner) Process(ctx domain.Context, req domain.Request, ec domain.EnrichedContext, spec domain.CallSpec) (*domain.Response, error) {
	next := []string{"Review the edits against your intent", "Run a fact check before publishing"}
	return w.complete(ctx, req, spec, next, []domain.Suggestion{
		{
			Kind:        domain.SuggestionImprovement,
			Title:       "Read the revision aloud",
			Description: "Reading aloud catches pacing and rhythm problems edits can introduce.",
			Priority:    "medium",
		},
	})
}
