package webfetch_test

import (
	"strings"
	"testing"

	"github.com/Strob0t/EventForge/internal/adapter/webfetch"
)

const page = `<!doctype html>
<html><head><title>RailCon 2026</title><style>body{color:red}</style>
<script>var tracking = true;</script></head>
<body>
<nav><a href="/tickets">Tickets</a> <a href="#top">Top</a> <a href="javascript:void(0)">JS</a></nav>
<h1>RailCon   2026</h1>
<p>Model railway fair in <b>Leipzig</b>.</p>
<p>Starts <time datetime="2026-05-02">May 2</time></p>
<ul><li>Parking</li><li>Food</li></ul>
<img src="logo.png" alt="RailCon logo">
</body></html>`

func TestExtractText(t *testing.T) {
	text, err := webfetch.NewExtractor().ExtractText([]byte(page), "https://railcon.example/2026/", 0)
	if err != nil {
		t.Fatalf("ExtractText failed: %v", err)
	}

	for _, want := range []string{
		"Title: RailCon 2026",
		"RailCon 2026",
		"Model railway fair in Leipzig",
		"Tickets (https://railcon.example/tickets)",
		"[2026-05-02]",
		"- Parking",
		"[Image: RailCon logo]",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in:\n%s", want, text)
		}
	}
	for _, unwanted := range []string{"tracking", "color:red", "javascript:", "#top"} {
		if strings.Contains(text, unwanted) {
			t.Errorf("unexpected %q in:\n%s", unwanted, text)
		}
	}
	if strings.Contains(text, "\n\n\n") {
		t.Error("expected collapsed blank lines")
	}
}

func TestExtractTextTruncates(t *testing.T) {
	doc := "<html><body><p>" + strings.Repeat("word ", 1000) + "</p></body></html>"
	text, err := webfetch.NewExtractor().ExtractText([]byte(doc), "https://x.example", 100)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(text, "[...truncated...]") {
		t.Fatalf("expected truncation marker, got %q", text[len(text)-30:])
	}
}

func TestExtractTextPlain(t *testing.T) {
	text, err := webfetch.NewExtractor().ExtractText([]byte("just   some\n\n\n\ntext"), "https://x.example", 0)
	if err != nil {
		t.Fatal(err)
	}
	if text != "just some\n\ntext" {
		t.Fatalf("unexpected text %q", text)
	}
}
