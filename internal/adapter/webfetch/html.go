package webfetch

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/Strob0t/EventForge/internal/domain/budget"
)

var (
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
	multiSpacePattern   = regexp.MustCompile(`[ \t]{2,}`)
)

// maxDepth stops the tree walk on pathologically nested documents.
const maxDepth = 200

// Extractor converts HTML into plain text. Links are kept as
// "text (absolute-url)" so the agent can ask for follow-up pages.
type Extractor struct{}

// NewExtractor returns an Extractor.
func NewExtractor() *Extractor { return &Extractor{} }

// ExtractText returns the readable text of doc, truncated to maxLen runes
// (no limit when maxLen <= 0). Non-HTML input is returned as cleaned text.
func (x *Extractor) ExtractText(doc []byte, pageURL string, maxLen int) (string, error) {
	base, _ := url.Parse(pageURL)

	if !looksLikeHTML(doc) {
		return budget.Truncate(clean(string(doc)), maxLen), nil
	}

	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var sb strings.Builder
	walk(root, &sb, base, 0)
	return budget.Truncate(clean(sb.String()), maxLen), nil
}

func looksLikeHTML(doc []byte) bool {
	head := bytes.ToLower(bytes.TrimSpace(doc[:min(len(doc), 512)]))
	return bytes.HasPrefix(head, []byte("<")) || bytes.Contains(head, []byte("<html")) || bytes.Contains(head, []byte("<body"))
}

func walk(n *html.Node, sb *strings.Builder, base *url.URL, depth int) {
	if depth > maxDepth {
		return
	}

	switch n.Type {
	case html.TextNode:
		if text := strings.TrimSpace(n.Data); text != "" {
			sb.WriteString(text)
			sb.WriteString(" ")
		}
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "template", "form":
			return
		case "title":
			sb.WriteString("Title: ")
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c, sb, base, depth+1)
			}
			sb.WriteString("\n\n")
			return
		case "h1", "h2", "h3", "h4", "h5", "h6", "p", "div", "section", "article", "table", "tr":
			sb.WriteString("\n\n")
		case "br":
			sb.WriteString("\n")
		case "li":
			sb.WriteString("\n- ")
		case "img":
			if alt := attr(n, "alt"); alt != "" {
				fmt.Fprintf(sb, "[Image: %s] ", alt)
			}
			return
		case "time":
			if dt := attr(n, "datetime"); dt != "" {
				fmt.Fprintf(sb, "[%s] ", dt)
			}
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, sb, base, depth+1)
	}

	if n.Type == html.ElementNode {
		switch n.Data {
		case "h1", "h2", "h3", "h4", "h5", "h6", "p":
			sb.WriteString("\n\n")
		case "a":
			if href := resolve(base, attr(n, "href")); href != "" {
				fmt.Fprintf(sb, "(%s) ", href)
			}
		}
	}
}

// resolve makes href absolute against base and drops non-navigational links.
func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	switch u.Scheme {
	case "http", "https", "mailto":
		u.Fragment = ""
		return u.String()
	default:
		return ""
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func clean(s string) string {
	s = multiSpacePattern.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = multiNewlinePattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
