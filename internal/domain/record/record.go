// Package record defines the structured event record produced by an
// extraction run and the parser that recovers it from backend output.
package record

import (
	"encoding/json"
	"strings"
	"time"
	_ "time/tzdata" // timezone validation must work in scratch images
)

// Top-level keys every record carries.
const (
	KeyConvention = "convention"
	KeyEdition    = "edition"
)

// Record is the extraction artifact: the organizing entity and one of its
// scheduled events.
type Record struct {
	Convention Convention `json:"convention"`
	Edition    Edition    `json:"edition"`
}

// Convention describes the organizing entity.
type Convention struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Website     string `json:"website"`
	Email       string `json:"email,omitempty"`
	Facebook    string `json:"facebook,omitempty"`
	Instagram   string `json:"instagram,omitempty"`
	Twitter     string `json:"twitter,omitempty"`
	LogoURL     string `json:"logoUrl,omitempty"`
}

// Edition describes one scheduled event of the convention. Dates are
// ISO-8601 (date or date-time) strings; Timezone is an IANA identifier.
type Edition struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	StartDate    string          `json:"startDate"`
	EndDate      string          `json:"endDate"`
	Timezone     string          `json:"timezone"`
	City         string          `json:"city"`
	Country      string          `json:"country"`
	VenueName    string          `json:"venueName,omitempty"`
	AddressLine1 string          `json:"addressLine1,omitempty"`
	Region       string          `json:"region,omitempty"`
	PostalCode   string          `json:"postalCode,omitempty"`
	Latitude     *float64        `json:"latitude,omitempty"`
	Longitude    *float64        `json:"longitude,omitempty"`
	Website      string          `json:"website,omitempty"`
	TicketURL    string          `json:"ticketUrl,omitempty"`
	ImageURL     string          `json:"imageUrl,omitempty"`
	Features     map[string]bool `json:"features,omitempty"`
}

// Marshal serializes the record. Required fields are always present.
func (r *Record) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// Description returns the most informative free-text description available.
func (r *Record) Description() string {
	if d := strings.TrimSpace(r.Edition.Description); d != "" {
		return d
	}
	return strings.TrimSpace(r.Convention.Description)
}

// ApplyPrefill overlays every non-empty field of p onto r. Pre-fill values
// come from structured sources and win over generated values.
func (r *Record) ApplyPrefill(p *Record) {
	if p == nil {
		return
	}
	c, pc := &r.Convention, p.Convention
	overlay(&c.Name, pc.Name)
	overlay(&c.Description, pc.Description)
	overlay(&c.Website, pc.Website)
	overlay(&c.Email, pc.Email)
	overlay(&c.Facebook, pc.Facebook)
	overlay(&c.Instagram, pc.Instagram)
	overlay(&c.Twitter, pc.Twitter)
	overlay(&c.LogoURL, pc.LogoURL)

	e, pe := &r.Edition, p.Edition
	overlay(&e.Name, pe.Name)
	overlay(&e.Description, pe.Description)
	overlay(&e.StartDate, pe.StartDate)
	overlay(&e.EndDate, pe.EndDate)
	overlay(&e.Timezone, pe.Timezone)
	overlay(&e.City, pe.City)
	overlay(&e.Country, pe.Country)
	overlay(&e.VenueName, pe.VenueName)
	overlay(&e.AddressLine1, pe.AddressLine1)
	overlay(&e.Region, pe.Region)
	overlay(&e.PostalCode, pe.PostalCode)
	overlay(&e.Website, pe.Website)
	overlay(&e.TicketURL, pe.TicketURL)
	overlay(&e.ImageURL, pe.ImageURL)
	if pe.Latitude != nil && pe.Longitude != nil {
		lat, lng := *pe.Latitude, *pe.Longitude
		e.Latitude, e.Longitude = &lat, &lng
	}
	e.MergeFeatures(pe.Features)
}

// MergeFeatures adds or overwrites boolean feature flags.
func (e *Edition) MergeFeatures(flags map[string]bool) {
	if len(flags) == 0 {
		return
	}
	if e.Features == nil {
		e.Features = make(map[string]bool, len(flags))
	}
	for k, v := range flags {
		if k = strings.TrimSpace(k); k != "" {
			e.Features[k] = v
		}
	}
}

// Normalize trims string fields, drops an unknown timezone and discards
// coordinates outside the valid range.
func (r *Record) Normalize() {
	c := &r.Convention
	for _, s := range []*string{&c.Name, &c.Description, &c.Website, &c.Email, &c.Facebook, &c.Instagram, &c.Twitter, &c.LogoURL} {
		*s = strings.TrimSpace(*s)
	}
	e := &r.Edition
	for _, s := range []*string{
		&e.Name, &e.Description, &e.StartDate, &e.EndDate, &e.Timezone, &e.City, &e.Country,
		&e.VenueName, &e.AddressLine1, &e.Region, &e.PostalCode, &e.Website, &e.TicketURL, &e.ImageURL,
	} {
		*s = strings.TrimSpace(*s)
	}
	if e.Timezone != "" {
		if _, err := time.LoadLocation(e.Timezone); err != nil || strings.EqualFold(e.Timezone, "local") {
			e.Timezone = ""
		}
	}
	if e.Latitude != nil || e.Longitude != nil {
		if e.Latitude == nil || e.Longitude == nil ||
			*e.Latitude < -90 || *e.Latitude > 90 || *e.Longitude < -180 || *e.Longitude > 180 {
			e.Latitude, e.Longitude = nil, nil
		}
	}
}

func overlay(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}
