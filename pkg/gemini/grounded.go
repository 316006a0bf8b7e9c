package gemini

import (
	"context"

	"github.com/localxplore/localxplore/pkg/core/explore"
)

// GroundedService answers one-shot prompts with Maps grounding. It
// implements explore.Generator.
type GroundedService struct {
	client *Client
}

// NewGroundedService creates the grounded query service over a shared client.
func NewGroundedService(client *Client) *GroundedService {
	return &GroundedService{client: client}
}

// Generate runs a single generateContent call with the googleMaps tool
// enabled and the optional location attached as retrieval bias.
func (s *GroundedService) Generate(ctx context.Context, req explore.Request) (explore.Answer, error) {
	wireReq := &geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: req.Prompt}},
		}},
		Tools:      []geminiTool{{GoogleMaps: &geminiGoogleMaps{}}},
		ToolConfig: retrievalBias(req.Location),
	}

	body, err := s.client.doRequest(ctx, req.Model, wireReq)
	if err != nil {
		return explore.Answer{}, err
	}

	resp, err := parseResponse(body)
	if err != nil {
		return explore.Answer{}, err
	}

	return explore.Answer{
		Text:      resp.candidateText(),
		Citations: resp.citations(),
	}, nil
}
