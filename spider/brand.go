package spider

import (
	"context"
	"strings"
)

// Brand is a manufacturer entry from the brand index. It is immutable once a
// run has started.
type Brand struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	// DeviceCount is the number of devices the index advertises, not the
	// number actually listed.
	DeviceCount int `json:"device_count"`
}

// Match reports whether s names this brand, by case-insensitive name or exact URL.
func (b Brand) Match(s string) bool {
	return b.URL == s || strings.EqualFold(b.Name, strings.TrimSpace(s))
}

// DeviceStub is the cheap record scraped from a brand listing page. URL is the
// catalog-wide device key.
type DeviceStub struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	ImageURL string `json:"image_url"`
}

// DeviceSpecification is a parsed device page. Specifications keeps the page
// labels; Detailed holds the same values under stable snake_case keys.
type DeviceSpecification struct {
	DeviceURL      string         `json:"device_url"`
	DisplayName    string         `json:"display_name"`
	Pictures       []string       `json:"pictures"`
	Specifications Specifications `json:"specifications"`
	Detailed       Specifications `json:"detailed_specs,omitempty"`
	Highlights     Highlights     `json:"highlights"`
	Price          Price          `json:"price"`
}

// Highlights are the headline fields used for device search and
// recommendations.
type Highlights struct {
	Technology   string `json:"technology"`
	DisplayType  string `json:"display_type"`
	Dimensions   string `json:"dimensions"`
	OS           string `json:"os"`
	Colors       string `json:"colors"`
	BatteryType  string `json:"battery_type"`
	MainCamera   string `json:"main_camera"`
	SelfieCamera string `json:"selfie_camera"`
	Sensors      string `json:"sensors"`
	Features     string `json:"features"`
}

type Price struct {
	Text string `json:"text,omitempty"`
	URL  string `json:"url,omitempty"`
}

type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}
