package gemini

import (
	"encoding/json"

	"github.com/localxplore/localxplore/pkg/core/chat"
	"github.com/localxplore/localxplore/pkg/travel"
)

// geminiRequest is the generateContent request body.
// Note: the Gemini API uses camelCase for JSON field names.
type geminiRequest struct {
	Contents          []geminiContent   `json:"contents"`
	SystemInstruction *geminiContent    `json:"systemInstruction,omitempty"`
	Tools             []geminiTool      `json:"tools,omitempty"`
	ToolConfig        *geminiToolConfig `json:"toolConfig,omitempty"`
	GenerationConfig  *geminiGenConfig  `json:"generationConfig,omitempty"`
}

// geminiContent is one conversation entry.
type geminiContent struct {
	Role  string       `json:"role,omitempty"` // "user" or "model"
	Parts []geminiPart `json:"parts"`
}

// geminiPart is a single part within content.
type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	InlineData       *geminiBlob             `json:"inlineData,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

// geminiBlob is inline binary data, base64 encoded.
type geminiBlob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// geminiFunctionCall is a function call emitted by the model. The API omits
// the id on some models; callers synthesize one in that case.
type geminiFunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// geminiFunctionResponse echoes a function result back to the model.
type geminiFunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// geminiTool is one tool made available to the model.
type geminiTool struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations,omitempty"`
	GoogleMaps           *geminiGoogleMaps    `json:"googleMaps,omitempty"`
}

// geminiFunctionDecl declares one callable function.
type geminiFunctionDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// geminiGoogleMaps enables Maps grounding.
type geminiGoogleMaps struct{}

// geminiToolConfig carries retrieval bias for grounded tools.
type geminiToolConfig struct {
	RetrievalConfig *geminiRetrievalConfig `json:"retrievalConfig,omitempty"`
}

type geminiRetrievalConfig struct {
	LatLng *geminiLatLng `json:"latLng,omitempty"`
}

type geminiLatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// geminiGenConfig is the generation configuration.
type geminiGenConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

// translateTurns converts conversation history to wire contents.
func translateTurns(turns []chat.Turn) []geminiContent {
	contents := make([]geminiContent, 0, len(turns))
	for _, t := range turns {
		parts := make([]geminiPart, 0, len(t.Parts))
		for _, p := range t.Parts {
			if p.Text != "" {
				parts = append(parts, geminiPart{Text: p.Text})
			}
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, geminiContent{Role: string(t.Role), Parts: parts})
	}
	return contents
}

// translateDeclarations converts tool declarations to wire form.
func translateDeclarations(decls []chat.Declaration) []geminiTool {
	if len(decls) == 0 {
		return nil
	}
	funcDecls := make([]geminiFunctionDecl, 0, len(decls))
	for _, d := range decls {
		var params json.RawMessage
		if d.Parameters != nil {
			params, _ = json.Marshal(d.Parameters)
		}
		funcDecls = append(funcDecls, geminiFunctionDecl{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  params,
		})
	}
	return []geminiTool{{FunctionDeclarations: funcDecls}}
}

// retrievalBias builds the location bias config, nil when no location given.
func retrievalBias(loc *travel.Location) *geminiToolConfig {
	if loc == nil {
		return nil
	}
	return &geminiToolConfig{
		RetrievalConfig: &geminiRetrievalConfig{
			LatLng: &geminiLatLng{Latitude: loc.Latitude, Longitude: loc.Longitude},
		},
	}
}
