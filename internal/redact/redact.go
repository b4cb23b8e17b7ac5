// Package redact sanitizes text that crosses a trust boundary: error strings
// bound for an LLM prompt, audit log records, or query strings in logs.
// Patterns are grounded on the sensitive-parameter and connection-string
// redaction the ledger component applies before logging.
package redact

import (
	"net/url"
	"regexp"
	"strings"
)

const maxQueryLength = 2048

var sensitiveParamNames = map[string]struct{}{
	"token": {}, "api_key": {}, "apikey": {}, "password": {}, "secret": {},
	"authorization": {}, "access_token": {}, "refresh_token": {},
	"session_id": {}, "jwt": {}, "client_secret": {},
}

// QueryParams redacts sensitive values out of a URL query string while
// leaving ordinary parameters untouched. Invalid input returns a fixed
// placeholder rather than echoing the unparsed string.
func QueryParams(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return raw
	}

	if len(raw) > maxQueryLength {
		raw = raw[:maxQueryLength]
	}

	values, err := url.ParseQuery(raw)
	if err != nil {
		return "[invalid_query]"
	}

	for key := range values {
		if _, sensitive := sensitiveParamNames[strings.ToLower(key)]; sensitive {
			values[key] = []string{"[REDACTED]"}
		}
	}

	return values.Encode()
}

var connectionStringPattern = regexp.MustCompile(
	`(?i)(postgres|postgresql|mysql|mongodb|redis|amqp)://[^\s]+`,
)

// ErrorMessage strips connection strings and credentials out of an error
// message before it is logged, audited, or handed to an LLM as refiner
// feedback. It is intentionally conservative: when in doubt it redacts
// rather than leaks.
func ErrorMessage(msg string) string {
	return connectionStringPattern.ReplaceAllString(msg, "[REDACTED]")
}

// Code returns only the stable machine-readable part of an error — its
// code — for crossing the boundary into an LLM prompt. Raw driver error text
// must never reach this point; callers pass the PipelineError code instead
// of err.Error().
func Code(code string) string {
	return strings.TrimSpace(code)
}
