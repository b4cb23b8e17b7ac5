package llmgateway

import "github.com/lerianstudio/nl2sql/internal/redact"

// Sanitize strips connection strings and obvious secrets out of text before
// it is sent to any LLM provider — prompts may embed prior error output
// (e.g. a refiner prompt quoting the last execution failure), and that error
// text must never carry raw driver/connection detail across the boundary.
func Sanitize(text string) string {
	return redact.ErrorMessage(text)
}
