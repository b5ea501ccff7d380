package jsonld_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Strob0t/EventForge/internal/adapter/jsonld"
)

const eventPage = `<html><head>
<script type="application/ld+json">{"@context":"https://schema.org","@type":"Organization","name":"Ignore me"}</script>
<script type="application/ld+json">
{"@context":"https://schema.org","@graph":[
  {"@type":"WebPage","name":"page"},
  {"@type":["MusicEvent"],
   "name":"Summer Sounds 2026",
   "description":"Three days of live music &amp; camping.",
   "startDate":"2026-07-10T14:00:00+02:00",
   "endDate":"2026-07-12",
   "url":"https://tickets.example/e/summer-sounds",
   "image":["https://img.example/1.jpg"],
   "isAccessibleForFree": false,
   "eventAttendanceMode":"https://schema.org/OfflineEventAttendanceMode",
   "location":{"@type":"Place","name":"Lakeside Park",
     "address":{"@type":"PostalAddress","streetAddress":"1 Shore Rd","addressLocality":"Lakeview","addressRegion":"Bavaria","postalCode":80331,"addressCountry":{"name":"DE"}},
     "geo":{"latitude":"48.1","longitude":11.5}},
   "offers":[{"@type":"Offer","url":"https://tickets.example/buy"}],
   "organizer":{"@type":"Organization","name":"Summer Sounds e.V.","url":"https://summersounds.example"}}
]}
</script></head><body></body></html>`

func TestParse(t *testing.T) {
	rec, err := jsonld.Parse([]byte(eventPage))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	e := rec.Edition
	checks := map[string][2]string{
		"name":        {e.Name, "Summer Sounds 2026"},
		"description": {e.Description, "Three days of live music & camping."},
		"startDate":   {e.StartDate, "2026-07-10T14:00:00+02:00"},
		"endDate":     {e.EndDate, "2026-07-12"},
		"venue":       {e.VenueName, "Lakeside Park"},
		"address":     {e.AddressLine1, "1 Shore Rd"},
		"city":        {e.City, "Lakeview"},
		"region":      {e.Region, "Bavaria"},
		"postal":      {e.PostalCode, "80331"},
		"country":     {e.Country, "DE"},
		"ticket":      {e.TicketURL, "https://tickets.example/buy"},
		"image":       {e.ImageURL, "https://img.example/1.jpg"},
		"convention":  {rec.Convention.Name, "Summer Sounds e.V."},
		"orgWebsite":  {rec.Convention.Website, "https://summersounds.example"},
	}
	for field, c := range checks {
		if c[0] != c[1] {
			t.Errorf("%s = %q, want %q", field, c[0], c[1])
		}
	}
	if e.Latitude == nil || *e.Latitude != 48.1 || e.Longitude == nil || *e.Longitude != 11.5 {
		t.Errorf("unexpected coordinates %v %v", e.Latitude, e.Longitude)
	}
	if free, ok := e.Features["isFree"]; !ok || free {
		t.Errorf("expected isFree=false, got %v", e.Features)
	}
	if online, ok := e.Features["isOnline"]; !ok || online {
		t.Errorf("expected isOnline=false, got %v", e.Features)
	}
}

func TestParseNoEvent(t *testing.T) {
	_, err := jsonld.Parse([]byte(`<html><script type="application/ld+json">{broken</script></html>`))
	if !errors.Is(err, jsonld.ErrNoEvent) {
		t.Fatalf("expected ErrNoEvent, got %v", err)
	}
}

type fakeDownloader struct {
	body []byte
	err  error
}

func (f fakeDownloader) Download(context.Context, string) ([]byte, error) { return f.body, f.err }

func TestScrapeDefaultsWebsite(t *testing.T) {
	page := `<script type="application/ld+json">{"@type":"Event","name":"X"}</script>`
	rec, err := jsonld.New(fakeDownloader{body: []byte(page)}).Scrape(context.Background(), "https://meetup.example/g/events/1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Edition.Website != "https://meetup.example/g/events/1" {
		t.Fatalf("unexpected website %q", rec.Edition.Website)
	}
}

func TestScrapeDownloadError(t *testing.T) {
	want := errors.New("boom")
	if _, err := jsonld.New(fakeDownloader{err: want}).Scrape(context.Background(), "https://x"); !errors.Is(err, want) {
		t.Fatalf("expected download error, got %v", err)
	}
}
