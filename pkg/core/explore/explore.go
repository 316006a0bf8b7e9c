// Package explore implements the grounded search query: a one-shot prompt
// augmented with optional location context, answered with free text plus
// grounding citations. No streaming, no retry; the caller owns retry policy.
package explore

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/localxplore/localxplore/pkg/core"
	"github.com/localxplore/localxplore/pkg/travel"
)

// WebSource cites a web page backing part of an answer.
type WebSource struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// MapsSource cites a map entry, optionally with review snippets.
type MapsSource struct {
	URI            string   `json:"uri"`
	Title          string   `json:"title"`
	ReviewSnippets []string `json:"reviewSnippets,omitempty"`
}

// Citation is one grounding source. Exactly one of Web or Maps is set.
type Citation struct {
	Web  *WebSource  `json:"web,omitempty"`
	Maps *MapsSource `json:"maps,omitempty"`
}

// Answer is the complete result of one query.
type Answer struct {
	Text      string     `json:"text"`
	Citations []Citation `json:"citations,omitempty"`
}

// Request is one grounded generation handed to the provider.
type Request struct {
	Model    string
	Prompt   string
	Location *travel.Location
}

// Generator is the remote grounded query service. Implemented by the gemini
// provider using the maps grounding tool.
type Generator interface {
	Generate(ctx context.Context, req Request) (Answer, error)
}

// Service issues grounded queries against a fixed model.
type Service struct {
	gen    Generator
	model  string
	logger zerolog.Logger
}

// NewService creates an explore service over the given generator.
func NewService(gen Generator, model string, logger zerolog.Logger) *Service {
	return &Service{
		gen:    gen,
		model:  model,
		logger: logger.With().Str("component", "explore").Logger(),
	}
}

// Query runs one prompt. When location is non-nil it is attached as
// retrieval bias so results favor nearby places. Transport failures come
// back as a query error wrapping the cause.
func (s *Service) Query(ctx context.Context, prompt string, location *travel.Location) (Answer, error) {
	if prompt == "" {
		return Answer{}, core.NewQueryError("Nothing to explore: the search prompt is empty.", nil)
	}

	ans, err := s.gen.Generate(ctx, Request{Model: s.model, Prompt: prompt, Location: location})
	if err != nil {
		return Answer{}, core.NewQueryError(
			"Failed to explore places with Orbitto. Please try adjusting your search.", err)
	}

	s.logger.Debug().
		Int("citations", len(ans.Citations)).
		Bool("located", location != nil).
		Msg("explore query answered")
	return ans, nil
}
