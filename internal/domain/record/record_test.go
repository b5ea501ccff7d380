package record

import "testing"

func ptr(f float64) *float64 { return &f }

func TestApplyPrefillOverridesNonEmpty(t *testing.T) {
	generated := &Record{
		Convention: Convention{Name: "Guessed Name", Website: "https://guess.example"},
		Edition: Edition{
			Name:      "Guessed Edition",
			StartDate: "2026-01-01",
			City:      "Somewhere",
			Features:  map[string]bool{"hasParking": false, "isFree": true},
		},
	}
	prefill := &Record{
		Convention: Convention{Name: "RailCon"},
		Edition: Edition{
			StartDate: "2026-05-02T10:00:00+02:00",
			City:      " Leipzig ",
			Latitude:  ptr(51.34),
			Longitude: ptr(12.37),
			Features:  map[string]bool{"hasParking": true},
		},
	}
	generated.ApplyPrefill(prefill)

	if generated.Convention.Name != "RailCon" {
		t.Errorf("name = %q", generated.Convention.Name)
	}
	if generated.Convention.Website != "https://guess.example" {
		t.Errorf("empty prefill field overwrote website: %q", generated.Convention.Website)
	}
	if generated.Edition.StartDate != "2026-05-02T10:00:00+02:00" {
		t.Errorf("startDate = %q", generated.Edition.StartDate)
	}
	if generated.Edition.City != "Leipzig" {
		t.Errorf("city = %q", generated.Edition.City)
	}
	if generated.Edition.Latitude == nil || *generated.Edition.Latitude != 51.34 {
		t.Errorf("latitude = %v", generated.Edition.Latitude)
	}
	if !generated.Edition.Features["hasParking"] || !generated.Edition.Features["isFree"] {
		t.Errorf("features = %v", generated.Edition.Features)
	}

	prefill.Edition.Latitude = ptr(0)
	if *generated.Edition.Latitude != 51.34 {
		t.Error("prefill coordinates aliased into record")
	}
}

func TestApplyPrefillIgnoresPartialCoordinates(t *testing.T) {
	r := &Record{Edition: Edition{Latitude: ptr(1), Longitude: ptr(2)}}
	r.ApplyPrefill(&Record{Edition: Edition{Latitude: ptr(10)}})
	if *r.Edition.Latitude != 1 || *r.Edition.Longitude != 2 {
		t.Fatal("partial prefill coordinates must not be applied")
	}
	r.ApplyPrefill(nil)
}

func TestNormalize(t *testing.T) {
	r := &Record{
		Convention: Convention{Name: "  RailCon\n"},
		Edition: Edition{
			Timezone:  "Mars/Olympus",
			Latitude:  ptr(123),
			Longitude: ptr(10),
		},
	}
	r.Normalize()
	if r.Convention.Name != "RailCon" {
		t.Errorf("name not trimmed: %q", r.Convention.Name)
	}
	if r.Edition.Timezone != "" {
		t.Errorf("invalid timezone kept: %q", r.Edition.Timezone)
	}
	if r.Edition.Latitude != nil || r.Edition.Longitude != nil {
		t.Error("out-of-range coordinates kept")
	}

	ok := &Record{Edition: Edition{Timezone: "Europe/Berlin", Latitude: ptr(51.3), Longitude: ptr(12.3)}}
	ok.Normalize()
	if ok.Edition.Timezone != "Europe/Berlin" || ok.Edition.Latitude == nil {
		t.Errorf("valid values dropped: %+v", ok.Edition)
	}

	partial := &Record{Edition: Edition{Longitude: ptr(12.3)}}
	partial.Normalize()
	if partial.Edition.Longitude != nil {
		t.Error("lone longitude kept")
	}
}

func TestDescriptionPrefersEdition(t *testing.T) {
	r := &Record{Convention: Convention{Description: "conv"}, Edition: Edition{Description: " "}}
	if r.Description() != "conv" {
		t.Fatalf("got %q", r.Description())
	}
	r.Edition.Description = "ed"
	if r.Description() != "ed" {
		t.Fatalf("got %q", r.Description())
	}
}
