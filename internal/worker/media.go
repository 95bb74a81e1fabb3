package worker

import "github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"

const mediaRole = "You are the media specialist in a collaborative writing studio. " +
	"Propose visuals and media treatments that fit the piece: illustration and photography " +
	"directions, pull quotes, captions, alt text and layout notes. Ground every proposal in " +
	"the actual content."

// Media is the visuals-and-layout role.
type Media struct {
	base
}

// NewMedia builds the media worker.
func NewMedia(llm domain.LLMClient, maxContent int) *Media {
	return &Media{base: newBase(domain.WorkerMedia, llm, maxContent, 0.75)}
}

// BuildSystemContext implements domain.Worker.
func (w *Media) BuildSystemContext(ec domain.EnrichedContext) string {
	return systemContext(mediaRole, ec)
}

// Process implements domain.Worker.
func (w *Media) Process(ctx domain.Context, req domain.Request, ec domain.EnrichedContext, spec domain.CallSpec) (*domain.Response, error) {
	next := []string{"Shortlist the visuals worth commissioning", "Add captions and alt text to the draft"}
	return w.complete(ctx, req, spec, next, []domain.Suggestion{
		{
			Kind:        domain.SuggestionResource,
			Title:       "Check image licensing",
			Description: "Confirm usage rights for any stock or reference imagery before layout.",
			Priority:    "medium",
		},
	})
}
