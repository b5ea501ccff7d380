package record

import (
	"bytes"
	"encoding/json"
	"slices"
	"strconv"
	"strings"
)

// GenerateMarker precedes the final record in backend output.
const GenerateMarker = "GENERATE_JSON"

// maxScanLen bounds the balanced-span search on pathological input.
const maxScanLen = 256 << 10

// Extract recovers a Record from raw backend output. It returns false
// instead of an error when nothing usable is found; callers decide whether
// to ask again or fall back.
//
// Strategy, first success wins:
//  1. GENERATE_JSON marker followed by a brace block, parsed as is.
//  2. The same block after repair (comments, quotes, trailing commas,
//     control characters, unbalanced brackets).
//  3. A balanced {...} span of the repaired text holding both top-level keys.
//  4. Without a marker, any such span in the full raw text.
func Extract(raw string) (*Record, bool) {
	var out *Record
	ok := ladder(raw, GenerateMarker, func(candidate string) bool {
		rec, err := decodeRecord(candidate)
		if err != nil {
			return false
		}
		out = rec
		return true
	}, KeyConvention, KeyEdition)
	return out, ok
}

// ExtractObject runs the same recovery ladder for an arbitrary JSON object
// that must contain every key in required. marker may be empty.
func ExtractObject(raw, marker string, required ...string) (map[string]any, bool) {
	var out map[string]any
	ok := ladder(raw, marker, func(candidate string) bool {
		obj, err := decodeObject(candidate, required...)
		if err != nil {
			return false
		}
		out = obj
		return true
	}, required...)
	return out, ok
}

func ladder(raw, marker string, try func(string) bool, keys ...string) bool {
	if len(raw) > maxScanLen {
		raw = raw[:maxScanLen]
	}

	idx := -1
	if marker != "" {
		idx = strings.LastIndex(raw, marker)
	}
	if idx >= 0 {
		tail := raw[idx+len(marker):]
		if block, ok := braceBlock(tail); ok {
			if try(block) {
				return true
			}
			if try(Repair(block)) {
				return true
			}
		}
		for _, span := range balancedSpans(Repair(tail), keys) {
			if try(span) {
				return true
			}
		}
		return false
	}

	for _, span := range balancedSpans(raw, keys) {
		if try(span) || try(Repair(span)) {
			return true
		}
	}
	// An unterminated object only becomes a span once repaired.
	if start := strings.IndexByte(raw, '{'); start >= 0 {
		for _, span := range balancedSpans(Repair(raw[start:]), keys) {
			if try(span) {
				return true
			}
		}
	}
	return false
}

// braceBlock returns the text from the first '{' to the last '}' of s. When
// there is no closing brace it returns the open-ended tail so repair can
// still balance it.
func braceBlock(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	end := strings.LastIndexByte(s, '}')
	if end < start {
		return s[start:], true
	}
	return s[start : end+1], true
}

// maxSpans bounds how many candidate spans one ladder step tries.
const maxSpans = 16

type span struct{ start, end int }

// balancedSpans returns up to maxSpans balanced {...} spans of s that
// mention all keys, outermost spans first. Braces inside strings are
// ignored; a raw newline ends an unterminated string so a stray quote in
// prose cannot hide the rest of the text.
func balancedSpans(s string, keys []string) []string {
	var open []int
	var found []span
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"' || c == '\n':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			open = append(open, i)
		case '}':
			if len(open) == 0 {
				continue
			}
			found = append(found, span{start: open[len(open)-1], end: i})
			open = open[:len(open)-1]
		}
	}
	if len(found) == 0 {
		return nil
	}

	// Spans close innermost first; callers want them by start offset.
	slices.SortFunc(found, func(a, b span) int { return a.start - b.start })

	occurrences := make([][]int, len(keys))
	for i, k := range keys {
		occurrences[i] = keyOffsets(s, k)
	}

	var spans []string
	for _, sp := range found {
		if mentionsAll(sp, keys, occurrences) {
			spans = append(spans, s[sp.start:sp.end+1])
			if len(spans) == maxSpans {
				break
			}
		}
	}
	return spans
}

// keyOffsets returns the sorted offsets of every quoted occurrence of key.
func keyOffsets(s, key string) []int {
	var offsets []int
	for _, q := range []string{`"`, `'`} {
		needle := q + key + q
		for from := 0; ; {
			i := strings.Index(s[from:], needle)
			if i < 0 {
				break
			}
			offsets = append(offsets, from+i)
			from += i + 1
		}
	}
	slices.Sort(offsets)
	return offsets
}

// mentionsAll reports whether every key has a quoted occurrence fully
// inside sp. occurrences[i] holds the sorted offsets of keys[i].
func mentionsAll(sp span, keys []string, occurrences [][]int) bool {
	for i, k := range keys {
		offs := occurrences[i]
		j, _ := slices.BinarySearch(offs, sp.start)
		if j == len(offs) || offs[j]+len(k)+1 > sp.end {
			return false
		}
	}
	return true
}

// Repair rewrites common malformations of model-written JSON: comments,
// single-quoted keys and values, trailing commas, raw control characters
// and unclosed strings, objects or arrays.
func Repair(s string) string {
	s = stripComments(s)
	s = normalizeQuotes(s)
	s = stripTrailingCommas(s)
	s = escapeControlChars(s)
	return closeBrackets(s)
}

// stripComments removes // line and /* block */ comments outside strings.
func stripComments(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var quote byte
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
			}
			continue
		}
		if c == '/' && i+1 < len(s) {
			switch s[i+1] {
			case '/':
				for i < len(s) && s[i] != '\n' {
					i++
				}
				if i < len(s) {
					b.WriteByte('\n')
				}
				continue
			case '*':
				end := strings.Index(s[i+2:], "*/")
				if end < 0 {
					return b.String()
				}
				i += end + 3
				continue
			}
		}
		if c == '"' || c == '\'' {
			quote = c
		}
		b.WriteByte(c)
	}
	return b.String()
}

// normalizeQuotes converts single-quoted strings to double-quoted ones,
// escaping any double quotes they contain.
func normalizeQuotes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var quote byte
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch quote {
		case 0:
			switch c {
			case '"':
				quote = '"'
				b.WriteByte(c)
			case '\'':
				quote = '\''
				b.WriteByte('"')
			default:
				b.WriteByte(c)
			}
		case '"':
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				quote = 0
			}
		case '\'':
			switch {
			case escaped:
				escaped = false
				if c == '\'' {
					b.WriteByte('\'')
				} else {
					b.WriteByte('\\')
					b.WriteByte(c)
				}
			case c == '\\':
				escaped = true
			case c == '\'':
				quote = 0
				b.WriteByte('"')
			case c == '"':
				b.WriteString(`\"`)
			default:
				b.WriteByte(c)
			}
		}
	}
	return b.String()
}

// stripTrailingCommas drops commas directly followed by '}' or ']'.
func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && isSpace(s[j]) {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		if c == '"' {
			inString = true
		}
		b.WriteByte(c)
	}
	return b.String()
}

// escapeControlChars escapes raw newlines and tabs inside strings and drops
// every other control character.
func escapeControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x20 || c == 0x7f {
			if inString {
				switch c {
				case '\n':
					b.WriteString(`\n`)
				case '\t':
					b.WriteString(`\t`)
				case '\r':
					b.WriteString(`\r`)
				}
				escaped = false
				continue
			}
			if isSpace(c) {
				b.WriteByte(c)
			}
			continue
		}
		b.WriteByte(c)
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
		} else if c == '"' {
			inString = true
		}
	}
	return b.String()
}

// closeBrackets terminates an unclosed string and appends the closers for
// any open objects or arrays. Stray closers without an opener are dropped.
func closeBrackets(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				continue
			}
			stack = stack[:len(stack)-1]
		}
		b.WriteByte(c)
	}
	if inString {
		if escaped {
			b.WriteByte('\\')
		}
		b.WriteByte('"')
	}
	out := strings.TrimRight(b.String(), " \t\r\n")
	if len(stack) == 0 {
		return out
	}
	out = strings.TrimSuffix(out, ",")

	var closed strings.Builder
	closed.Grow(len(out) + len(stack))
	closed.WriteString(out)
	for i := len(stack) - 1; i >= 0; i-- {
		closed.WriteByte(stack[i])
	}
	return closed.String()
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func decodeObject(candidate string, required ...string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(candidate))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	for _, k := range required {
		if _, ok := obj[k]; !ok {
			return nil, &missingKeyError{key: k}
		}
	}
	return obj, nil
}

type missingKeyError struct{ key string }

func (e *missingKeyError) Error() string { return "missing key " + strconv.Quote(e.key) }

// decodeRecord parses candidate into a Record, coercing the loose value
// types models tend to emit (numeric postcodes, string coordinates, "yes"
// feature flags).
func decodeRecord(candidate string) (*Record, error) {
	obj, err := decodeObject(candidate, KeyConvention, KeyEdition)
	if err != nil {
		return nil, err
	}
	conv, ok := obj[KeyConvention].(map[string]any)
	if !ok {
		return nil, &missingKeyError{key: KeyConvention}
	}
	ed, ok := obj[KeyEdition].(map[string]any)
	if !ok {
		return nil, &missingKeyError{key: KeyEdition}
	}
	coerceStrings(conv, nil)
	coerceStrings(ed, map[string]bool{"latitude": true, "longitude": true, "features": true})
	coerceNumber(ed, "latitude")
	coerceNumber(ed, "longitude")
	coerceFeatures(ed)

	normalized, err := json.Marshal(map[string]any{KeyConvention: conv, KeyEdition: ed})
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(normalized, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func coerceStrings(m map[string]any, skip map[string]bool) {
	for k, v := range m {
		if skip[k] {
			continue
		}
		switch val := v.(type) {
		case nil:
			delete(m, k)
		case json.Number:
			m[k] = val.String()
		case bool:
			m[k] = strconv.FormatBool(val)
		case map[string]any, []any:
			// Nested structures have no field to land in; keep them out of
			// string fields.
			delete(m, k)
		}
	}
}

func coerceNumber(m map[string]any, key string) {
	switch val := m[key].(type) {
	case nil:
		delete(m, key)
	case json.Number:
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			delete(m, key)
			return
		}
		m[key] = f
	default:
		delete(m, key)
	}
}

func coerceFeatures(m map[string]any) {
	raw, ok := m["features"].(map[string]any)
	if !ok {
		delete(m, "features")
		return
	}
	flags := make(map[string]bool, len(raw))
	for k, v := range raw {
		if b, ok := asBool(v); ok {
			flags[k] = b
		}
	}
	m["features"] = flags
}

// FlagsFromObject converts a decoded object into boolean flags, skipping
// values that are not recognizably boolean.
func FlagsFromObject(obj map[string]any) map[string]bool {
	flags := make(map[string]bool, len(obj))
	for k, v := range obj {
		if b, ok := asBool(v); ok {
			flags[k] = b
		}
	}
	return flags
}

func asBool(v any) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "yes", "1":
			return true, true
		case "false", "no", "0":
			return false, true
		}
	case json.Number:
		return val.String() != "0", true
	}
	return false, false
}

// Equal reports whether two records serialize identically.
func Equal(a, b *Record) bool {
	if a == nil || b == nil {
		return a == b
	}
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}
