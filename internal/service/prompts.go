package service

import (
	"fmt"
	"strings"

	"github.com/Strob0t/EventForge/internal/domain/budget"
)

const recordSchema = `{
  "convention": {"name": "", "description": "", "website": "", "email": "", "facebook": "", "instagram": "", "twitter": "", "logoUrl": ""},
  "edition": {"name": "", "description": "", "startDate": "YYYY-MM-DD", "endDate": "YYYY-MM-DD", "timezone": "IANA zone", "city": "", "country": "ISO 3166-1 alpha-2",
              "venueName": "", "addressLine1": "", "region": "", "postalCode": "", "latitude": 0.0, "longitude": 0.0,
              "website": "", "ticketUrl": "", "imageUrl": "", "features": {}}
}`

const agentSystemPrompt = `You extract structured information about events (conventions, fairs, festivals, meetups) from web pages.
The "convention" is the organizing entity or recurring event series. The "edition" is one scheduled occurrence of it.

You work in turns. In every turn answer with exactly one of:
  FETCH_URL: <one absolute URL>   to read one more page you saw linked in the content (tickets, about, venue, FAQ)
  GENERATE_JSON <record>          when you have enough information

The record must follow this shape; leave unknown string fields empty and omit unknown numbers:
` + recordSchema + `

Never invent facts that are not supported by the page content. Never request a URL you already received.`

const reviewPrompt = `Here is the content gathered so far.

%s

Do you have enough information to produce the record? Answer with GENERATE_JSON followed by the record, or FETCH_URL: <url> for exactly one more page.`

const fetchedPrompt = `Content of %s:

%s

Do you have enough information now? Answer with GENERATE_JSON <record> or FETCH_URL: <url>.`

const fetchFailedPrompt = `The page %s could not be retrieved (%v). Choose another page with FETCH_URL: <url>, or answer with GENERATE_JSON <record>.`

const duplicatePrompt = `You already received %s. Do not request it again. Request a different page with FETCH_URL: <url>, or answer with GENERATE_JSON <record>.`

const budgetPrompt = `The content budget for this extraction is exhausted. Do not request more pages. Answer now with GENERATE_JSON <record>.`

const invalidRecordPrompt = `The record after GENERATE_JSON could not be parsed. Answer again with GENERATE_JSON followed by one valid JSON object with "convention" and "edition" keys, without comments.`

const unrecognizedPrompt = `Your answer did not contain a directive. Answer with exactly one of: FETCH_URL: <url> or GENERATE_JSON <record>.`

const forcePrompt = `Stop exploring. Using only the information below and what you have already seen, answer now with GENERATE_JSON followed by the record. Do not request any URL.

%s`

const simpleSystemPrompt = `You extract structured information about an event from web pages.
Answer with GENERATE_JSON followed by one JSON object of this shape and nothing else:
` + recordSchema + `
Leave unknown string fields empty. Never invent facts.`

const featureSystemPrompt = `You classify events. Answer with one JSON object mapping each requested flag to true or false, and nothing else.`

// combinedSummary joins fetched pages in fetch order and cuts the result to
// limit characters.
func combinedSummary(pages []Page, failed []string, limit int) string {
	var sb strings.Builder
	for _, p := range pages {
		fmt.Fprintf(&sb, "=== %s ===\n%s\n\n", p.URL, p.Text)
	}
	if len(failed) > 0 {
		fmt.Fprintf(&sb, "These pages could not be retrieved: %s\n", strings.Join(failed, ", "))
	}
	if sb.Len() == 0 {
		return "No page content could be retrieved."
	}
	return budget.Truncate(sb.String(), limit)
}

func featurePrompt(description string, flags []string) string {
	return fmt.Sprintf("Flags: %s\n\nEvent description:\n%s", strings.Join(flags, ", "), description)
}
