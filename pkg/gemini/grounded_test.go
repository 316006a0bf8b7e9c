package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/localxplore/localxplore/pkg/core/explore"
	"github.com/localxplore/localxplore/pkg/travel"
)

func TestGroundedService_Generate(t *testing.T) {
	var gotReq geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotReq)
		_, _ = io.WriteString(w, `{
			"candidates": [{
				"content": {"parts": [{"text": "Visit the night market."}]},
				"finishReason": "STOP",
				"groundingMetadata": {
					"groundingChunks": [
						{"maps": {"uri": "https://maps.example/nm", "title": "Night Market"}}
					]
				}
			}]
		}`)
	}))
	defer server.Close()

	svc := NewGroundedService(NewClient("test-key", WithBaseURL(server.URL)))
	ans, err := svc.Generate(context.Background(), explore.Request{
		Model:    "gemini-2.5-flash",
		Prompt:   "street food tonight",
		Location: &travel.Location{Latitude: 13.7563, Longitude: 100.5018},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if ans.Text != "Visit the night market." {
		t.Fatalf("text = %q", ans.Text)
	}
	if len(ans.Citations) != 1 || ans.Citations[0].Maps.Title != "Night Market" {
		t.Fatalf("citations = %+v", ans.Citations)
	}

	// The maps tool and the location bias were both on the wire.
	if len(gotReq.Tools) != 1 || gotReq.Tools[0].GoogleMaps == nil {
		t.Fatalf("tools = %+v, want googleMaps", gotReq.Tools)
	}
	latLng := gotReq.ToolConfig.RetrievalConfig.LatLng
	if latLng.Latitude != 13.7563 || latLng.Longitude != 100.5018 {
		t.Fatalf("latLng = %+v", latLng)
	}
}

func TestGroundedService_NoLocationOmitsBias(t *testing.T) {
	var gotReq geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotReq)
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"ok"}]},"finishReason":"STOP"}]}`)
	}))
	defer server.Close()

	svc := NewGroundedService(NewClient("test-key", WithBaseURL(server.URL)))
	if _, err := svc.Generate(context.Background(), explore.Request{
		Model:  "gemini-2.5-flash",
		Prompt: "festivals",
	}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if gotReq.ToolConfig != nil {
		t.Fatalf("toolConfig = %+v, want omitted", gotReq.ToolConfig)
	}
}
