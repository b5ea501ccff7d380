// Package directive decodes the control directives a text backend emits
// during exploration. Free-text output is mapped onto a closed set of
// variants by Parse; nothing else in the agent inspects raw output for
// control flow.
package directive

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/Strob0t/EventForge/internal/domain/record"
)

// FetchMarker precedes the single URL the backend wants fetched next.
const FetchMarker = "FETCH_URL"

// Kind tags a Directive variant.
type Kind int

const (
	Unrecognized Kind = iota
	Fetch
	Generate
)

func (k Kind) String() string {
	switch k {
	case Fetch:
		return "fetch"
	case Generate:
		return "generate"
	default:
		return "unrecognized"
	}
}

// Directive is the decoded instruction. URL is set for Fetch; Payload
// carries the raw output for Generate so the record parser sees every
// candidate span.
type Directive struct {
	Kind    Kind
	URL     string
	Payload string
}

var fetchPattern = regexp.MustCompile(`(?i)FETCH_URL\s*[:=]?\s*<?["'` + "`" + `]?(https?://[^\s"'<>` + "`" + `]+)`)

// Parse decodes raw backend output. A GENERATE_JSON marker wins over a
// fetch request in the same output; a bare record without any marker is
// treated as Generate.
func Parse(raw string) Directive {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Directive{Kind: Unrecognized}
	}
	if strings.Contains(text, record.GenerateMarker) {
		return Directive{Kind: Generate, Payload: text}
	}
	if m := fetchPattern.FindStringSubmatch(text); m != nil {
		if u, ok := cleanURL(m[1]); ok {
			return Directive{Kind: Fetch, URL: u}
		}
	}
	if strings.Contains(text, `"`+record.KeyConvention+`"`) && strings.Contains(text, `"`+record.KeyEdition+`"`) {
		return Directive{Kind: Generate, Payload: text}
	}
	return Directive{Kind: Unrecognized, Payload: text}
}

// cleanURL strips trailing punctuation models like to append and validates
// the result as an absolute http(s) URL.
func cleanURL(raw string) (string, bool) {
	u := strings.TrimRight(raw, ".,;:!?)]}>*")
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", false
	}
	return u, true
}

// NormalizeURL returns the form used for visited-set membership: lower-case
// scheme and host, no fragment, no trailing slash on the path.
func NormalizeURL(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.TrimSpace(raw)
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	parsed.RawFragment = ""
	if parsed.Path != "/" {
		parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	} else if parsed.RawQuery == "" {
		parsed.Path = ""
	}
	parsed.RawPath = ""
	return parsed.String()
}
