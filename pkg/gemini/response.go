package gemini

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/localxplore/localxplore/pkg/core/explore"
)

// geminiResponse is the generateContent response body.
type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata *geminiUsage      `json:"usageMetadata,omitempty"`
}

// geminiCandidate is a single candidate response.
type geminiCandidate struct {
	Content           geminiContent      `json:"content"`
	FinishReason      string             `json:"finishReason"`
	Index             int                `json:"index"`
	GroundingMetadata *groundingMetadata `json:"groundingMetadata,omitempty"`
}

// geminiUsage carries token counts.
type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// groundingMetadata carries the sources behind a grounded answer.
type groundingMetadata struct {
	WebSearchQueries []string         `json:"webSearchQueries,omitempty"`
	GroundingChunks  []groundingChunk `json:"groundingChunks,omitempty"`
}

// groundingChunk is one grounding source, web or maps.
type groundingChunk struct {
	Web  *webChunk  `json:"web,omitempty"`
	Maps *mapsChunk `json:"maps,omitempty"`
}

// webChunk cites a web page.
type webChunk struct {
	URI    string `json:"uri"`
	Title  string `json:"title"`
	Domain string `json:"domain,omitempty"`
}

// mapsChunk cites a map entry.
type mapsChunk struct {
	URI                string              `json:"uri"`
	Title              string              `json:"title"`
	Text               string              `json:"text,omitempty"`
	PlaceID            string              `json:"placeId,omitempty"`
	PlaceAnswerSources *placeAnswerSources `json:"placeAnswerSources,omitempty"`
}

type placeAnswerSources struct {
	ReviewSnippets []reviewSnippet `json:"reviewSnippets,omitempty"`
}

type reviewSnippet struct {
	Review        string `json:"review,omitempty"`
	Title         string `json:"title,omitempty"`
	GoogleMapsURI string `json:"googleMapsUri,omitempty"`
}

// parseResponse decodes a non-streaming response body.
func parseResponse(body []byte) (*geminiResponse, error) {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("no candidates in response")
	}
	return &resp, nil
}

// candidateText joins all text parts of the first candidate.
func (r *geminiResponse) candidateText() string {
	var sb strings.Builder
	for _, part := range r.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String()
}

// citations converts grounding chunks to the explore citation shape.
func (r *geminiResponse) citations() []explore.Citation {
	gm := r.Candidates[0].GroundingMetadata
	if gm == nil || len(gm.GroundingChunks) == 0 {
		return nil
	}

	out := make([]explore.Citation, 0, len(gm.GroundingChunks))
	for _, chunk := range gm.GroundingChunks {
		switch {
		case chunk.Web != nil:
			out = append(out, explore.Citation{Web: &explore.WebSource{
				URI:   chunk.Web.URI,
				Title: chunk.Web.Title,
			}})
		case chunk.Maps != nil:
			maps := &explore.MapsSource{
				URI:   chunk.Maps.URI,
				Title: chunk.Maps.Title,
			}
			if srcs := chunk.Maps.PlaceAnswerSources; srcs != nil {
				for _, snippet := range srcs.ReviewSnippets {
					text := snippet.Review
					if text == "" {
						text = snippet.Title
					}
					if text != "" {
						maps.ReviewSnippets = append(maps.ReviewSnippets, text)
					}
				}
			}
			out = append(out, explore.Citation{Maps: maps})
		}
	}
	return out
}
