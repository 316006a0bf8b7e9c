// Package travel defines the plain records exchanged between the assistant
// core and its application collaborators. They carry no behavior beyond
// shape; persistence and presentation belong to the front-end.
package travel

// Location is a retrieval-bias hint for grounded queries.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// GuideBooking describes a travel-guide booking requested through the
// bookTravelGuide tool. Price is in USD.
type GuideBooking struct {
	GuideName string  `json:"guideName"`
	Activity  string  `json:"activity"`
	Date      string  `json:"date"`
	Time      string  `json:"time"`
	Price     float64 `json:"price"`
}

// Itinerary is a travel plan created through the createItinerary tool.
type Itinerary struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Duration    string   `json:"duration"` // e.g. "3 days", "Full day"
	Description string   `json:"description"`
	Places      []string `json:"places"`
	Activities  []string `json:"activities"`
	ImageURL    string   `json:"imageUrl,omitempty"`
}

// Place is a discoverable destination surfaced by the explore feature.
type Place struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	ImageURL    string  `json:"imageUrl"`
	Category    string  `json:"category"`
	Rating      float64 `json:"rating"`
	Location    string  `json:"location,omitempty"`
	URI         string  `json:"uri,omitempty"`
}

// Festival is a dated event surfaced by the explore feature.
type Festival struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Date        string `json:"date"`
	Location    string `json:"location"`
	Description string `json:"description"`
	ImageURL    string `json:"imageUrl"`
	URI         string `json:"uri,omitempty"`
}
