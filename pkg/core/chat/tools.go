package chat

import (
	"fmt"

	"github.com/localxplore/localxplore/pkg/travel"
)

// Tool names the model may call.
const (
	ToolBookGuide       = "bookTravelGuide"
	ToolCreateItinerary = "createItinerary"
)

// Schema is the JSON-schema subset the tool declarations use. It marshals
// directly into the provider wire format.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

// Declaration describes one callable tool to the model.
type Declaration struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Parameters  *Schema `json:"parameters,omitempty"`
}

// BookGuideDeclaration declares the travel-guide booking tool.
func BookGuideDeclaration() Declaration {
	return Declaration{
		Name:        ToolBookGuide,
		Description: "Books a travel guide for a specific activity, date, and time.",
		Parameters: &Schema{
			Type: "OBJECT",
			Properties: map[string]*Schema{
				"guideName": {Type: "STRING", Description: "The name of the travel guide to book."},
				"activity":  {Type: "STRING", Description: "The activity to book with the guide (e.g., historical tour, food tasting, hiking)."},
				"date":      {Type: "STRING", Description: "The desired date for the booking (e.g., \"tomorrow\", \"August 15th\")."},
				"time":      {Type: "STRING", Description: "The desired time for the booking (e.g., \"2 PM\", \"morning\")."},
				"price":     {Type: "NUMBER", Description: "The price for the guide service in USD."},
			},
			Required: []string{"guideName", "activity", "date", "time", "price"},
		},
	}
}

// CreateItineraryDeclaration declares the itinerary-creation tool.
func CreateItineraryDeclaration() Declaration {
	return Declaration{
		Name:        ToolCreateItinerary,
		Description: "Creates a travel itinerary based on user preferences, including duration, places to visit, and activities.",
		Parameters: &Schema{
			Type: "OBJECT",
			Properties: map[string]*Schema{
				"name":        {Type: "STRING", Description: "A descriptive name for the itinerary (e.g., \"Romantic Paris Getaway\")."},
				"duration":    {Type: "STRING", Description: "The duration of the itinerary (e.g., \"3 days\", \"Full day\", \"Weekend\")."},
				"description": {Type: "STRING", Description: "A brief description of the itinerary."},
				"places":      {Type: "ARRAY", Items: &Schema{Type: "STRING"}, Description: "A list of key places to visit in the itinerary."},
				"activities":  {Type: "ARRAY", Items: &Schema{Type: "STRING"}, Description: "A list of activities planned for the itinerary."},
			},
			Required: []string{"name", "duration", "description", "places", "activities"},
		},
	}
}

// DecodeBooking translates bookTravelGuide arguments into a booking record.
func DecodeBooking(args map[string]any) (travel.GuideBooking, error) {
	var b travel.GuideBooking
	var err error
	if b.GuideName, err = stringArg(args, "guideName"); err != nil {
		return b, err
	}
	if b.Activity, err = stringArg(args, "activity"); err != nil {
		return b, err
	}
	if b.Date, err = stringArg(args, "date"); err != nil {
		return b, err
	}
	if b.Time, err = stringArg(args, "time"); err != nil {
		return b, err
	}
	if b.Price, err = numberArg(args, "price"); err != nil {
		return b, err
	}
	return b, nil
}

// DecodeItinerary translates createItinerary arguments into an itinerary
// record. The ID is left empty; assignment belongs to the collaborator.
func DecodeItinerary(args map[string]any) (travel.Itinerary, error) {
	var it travel.Itinerary
	var err error
	if it.Name, err = stringArg(args, "name"); err != nil {
		return it, err
	}
	if it.Duration, err = stringArg(args, "duration"); err != nil {
		return it, err
	}
	if it.Description, err = stringArg(args, "description"); err != nil {
		return it, err
	}
	if it.Places, err = stringSliceArg(args, "places"); err != nil {
		return it, err
	}
	if it.Activities, err = stringSliceArg(args, "activities"); err != nil {
		return it, err
	}
	return it, nil
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q is %T, want string", key, v)
	}
	return s, nil
}

func numberArg(args map[string]any, key string) (float64, error) {
	v, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("missing argument %q", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("argument %q is %T, want number", key, v)
	}
}

func stringSliceArg(args map[string]any, key string) ([]string, error) {
	v, ok := args[key]
	if !ok {
		return nil, fmt.Errorf("missing argument %q", key)
	}
	raw, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			return ss, nil
		}
		return nil, fmt.Errorf("argument %q is %T, want array of strings", key, v)
	}
	out := make([]string, 0, len(raw))
	for i, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("argument %q[%d] is %T, want string", key, i, item)
		}
		out = append(out, s)
	}
	return out, nil
}
