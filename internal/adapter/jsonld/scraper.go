// Package jsonld scrapes schema.org Event markup from ticketing and meetup
// pages into a partial record.
package jsonld

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/Strob0t/EventForge/internal/domain/record"
)

// ErrNoEvent is returned when a page carries no usable Event markup.
var ErrNoEvent = errors.New("no schema.org event on page")

// Downloader fetches raw page bytes.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// Scraper reads <script type="application/ld+json"> blocks.
type Scraper struct {
	dl Downloader
}

// New creates a Scraper.
func New(dl Downloader) *Scraper {
	return &Scraper{dl: dl}
}

// Scrape downloads pageURL and maps its first Event node onto a record.
func (s *Scraper) Scrape(ctx context.Context, pageURL string) (*record.Record, error) {
	doc, err := s.dl.Download(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	rec, err := Parse(doc)
	if err != nil {
		return nil, fmt.Errorf("scrape %s: %w", pageURL, err)
	}
	if rec.Edition.Website == "" {
		rec.Edition.Website = pageURL
	}
	return rec, nil
}

// Parse extracts the first schema.org Event from an HTML document.
func Parse(doc []byte) (*record.Record, error) {
	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	for _, block := range scripts(root) {
		var v any
		dec := json.NewDecoder(strings.NewReader(block))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			continue
		}
		if ev := findEvent(v); ev != nil {
			return mapEvent(ev), nil
		}
	}
	return nil, ErrNoEvent
}

func scripts(n *html.Node) []string {
	var out []string
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "script" {
			for _, a := range n.Attr {
				if a.Key == "type" && strings.EqualFold(strings.TrimSpace(a.Val), "application/ld+json") {
					if n.FirstChild != nil {
						out = append(out, n.FirstChild.Data)
					}
				}
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return out
}

// findEvent searches arrays and @graph containers for a node whose @type
// names an Event or one of its subtypes (MusicEvent, Festival, ...).
func findEvent(v any) map[string]any {
	switch val := v.(type) {
	case []any:
		for _, item := range val {
			if ev := findEvent(item); ev != nil {
				return ev
			}
		}
	case map[string]any:
		if isEvent(val["@type"]) {
			return val
		}
		if g, ok := val["@graph"]; ok {
			return findEvent(g)
		}
	}
	return nil
}

func isEvent(t any) bool {
	switch val := t.(type) {
	case string:
		return strings.HasSuffix(val, "Event") || val == "Festival"
	case []any:
		for _, x := range val {
			if isEvent(x) {
				return true
			}
		}
	}
	return false
}

func mapEvent(ev map[string]any) *record.Record {
	rec := &record.Record{}
	e := &rec.Edition
	e.Name = str(ev["name"])
	e.Description = str(ev["description"])
	e.StartDate = str(ev["startDate"])
	e.EndDate = str(ev["endDate"])
	e.Website = str(ev["url"])
	e.ImageURL = imageURL(ev["image"])
	e.TicketURL = offerURL(ev["offers"])

	if loc := firstObject(ev["location"]); loc != nil {
		e.VenueName = str(loc["name"])
		if addr, ok := loc["address"].(map[string]any); ok {
			e.AddressLine1 = str(addr["streetAddress"])
			e.City = str(addr["addressLocality"])
			e.Region = str(addr["addressRegion"])
			e.PostalCode = str(addr["postalCode"])
			e.Country = name(addr["addressCountry"])
		} else if s := str(loc["address"]); s != "" {
			e.AddressLine1 = s
		}
		if geo, ok := loc["geo"].(map[string]any); ok {
			lat, okLat := num(geo["latitude"])
			lng, okLng := num(geo["longitude"])
			if okLat && okLng {
				e.Latitude, e.Longitude = &lat, &lng
			}
		}
	}

	if org := firstObject(ev["organizer"]); org != nil {
		rec.Convention.Name = str(org["name"])
		rec.Convention.Website = str(org["url"])
		rec.Convention.Email = str(org["email"])
		rec.Convention.LogoURL = imageURL(org["logo"])
	}

	if free, ok := ev["isAccessibleForFree"].(bool); ok {
		e.MergeFeatures(map[string]bool{"isFree": free})
	}
	if mode := str(ev["eventAttendanceMode"]); strings.HasSuffix(mode, "OfflineEventAttendanceMode") {
		e.MergeFeatures(map[string]bool{"isOnline": false})
	} else if strings.HasSuffix(mode, "OnlineEventAttendanceMode") {
		e.MergeFeatures(map[string]bool{"isOnline": true})
	}
	return rec
}

func firstObject(v any) map[string]any {
	switch val := v.(type) {
	case map[string]any:
		return val
	case []any:
		for _, x := range val {
			if m, ok := x.(map[string]any); ok {
				return m
			}
		}
	}
	return nil
}

func imageURL(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case []any:
		for _, x := range val {
			if s := imageURL(x); s != "" {
				return s
			}
		}
	case map[string]any:
		return str(val["url"])
	}
	return ""
}

func offerURL(v any) string {
	if o := firstObject(v); o != nil {
		return str(o["url"])
	}
	return ""
}

func name(v any) string {
	if m, ok := v.(map[string]any); ok {
		return str(m["name"])
	}
	return str(v)
}

func str(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(html.UnescapeString(val))
	case json.Number:
		return val.String()
	}
	return ""
}

func num(v any) (float64, bool) {
	switch val := v.(type) {
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	}
	return 0, false
}
