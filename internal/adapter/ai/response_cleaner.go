package ai

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ResponseCleaner normalizes model output ahead of JSON decoding. Models
// wrap payloads in markdown fences, prepend prose, or emit almost-JSON
// (trailing commas, unquoted keys); the cleaner strips the wrapping and
// repairs the payload only when it does not already parse, so valid JSON
// containing apostrophes or asterisks passes through untouched.
type ResponseCleaner struct{}

// NewResponseCleaner creates a response cleaner.
func NewResponseCleaner() *ResponseCleaner {
	return &ResponseCleaner{}
}

// CleanJSONResponse extracts the JSON payload (object or array) from raw
// model output and repairs common formatting faults.
func (rc *ResponseCleaner) CleanJSONResponse(response string) string {
	response = rc.stripMarkdownFences(response)
	response = rc.extractPayload(response)

	if rc.IsValidJSON(response) {
		return response
	}
	return rc.repairJSON(response)
}

// stripMarkdownFences removes ``` fences around the payload.
func (rc *ResponseCleaner) stripMarkdownFences(response string) string {
	response = strings.TrimSpace(response)
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	return strings.TrimSpace(response)
}

// extractPayload cuts the first balanced JSON object or array out of mixed
// content. Structured worker outputs are objects (analysis, SEO) or arrays
// (claim lists), so both delimiters are handled.
func (rc *ResponseCleaner) extractPayload(response string) string {
	objStart := strings.Index(response, "{")
	arrStart := strings.Index(response, "[")

	start := objStart
	open, closing := byte('{'), byte('}')
	if start == -1 || (arrStart != -1 && arrStart < start) {
		start = arrStart
		open, closing = '[', ']'
	}
	if start == -1 {
		return response
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(response); i++ {
		ch := response[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == open:
			depth++
		case ch == closing:
			depth--
			if depth == 0 {
				return response[start : i+1]
			}
		}
	}
	return response[start:]
}

// repairJSON applies lossy fixes for almost-JSON. Runs only after a parse
// failure, so it cannot corrupt payloads that were already valid.
func (rc *ResponseCleaner) repairJSON(response string) string {
	// Trailing commas before a closing brace or bracket.
	response = regexp.MustCompile(`,(\s*[}\]])`).ReplaceAllString(response, "$1")
	if rc.IsValidJSON(response) {
		return response
	}

	// Backtick or single-quote delimited strings.
	response = strings.ReplaceAll(response, "`", `"`)
	fixed := strings.ReplaceAll(response, "'", `"`)
	if rc.IsValidJSON(fixed) {
		return fixed
	}

	// Unquoted object keys.
	fixed = regexp.MustCompile(`([{,]\s*)(\w+)\s*:`).ReplaceAllString(fixed, `$1"$2":`)
	if rc.IsValidJSON(fixed) {
		return fixed
	}
	return response
}

// IsValidJSON reports whether the string parses as JSON.
func (rc *ResponseCleaner) IsValidJSON(response string) bool {
	var v any
	return json.Unmarshal([]byte(response), &v) == nil
}

// CleanAndValidateJSON cleans the response and errors if the result still
// does not parse.
func (rc *ResponseCleaner) CleanAndValidateJSON(response string) (string, error) {
	cleaned := rc.CleanJSONResponse(response)
	if !rc.IsValidJSON(cleaned) {
		return "", &JSONValidationError{
			Original: response,
			Cleaned:  cleaned,
			Message:  "cleaned response is still not valid JSON",
		}
	}
	return cleaned, nil
}

// JSONValidationError reports a response that stayed unparsable after
// cleaning. Callers treat it as the cue to switch to heuristic fallbacks.
type JSONValidationError struct {
	Original string
	Cleaned  string
	Message  string
}

func (e *JSONValidationError) Error() string {
	return e.Message
}
