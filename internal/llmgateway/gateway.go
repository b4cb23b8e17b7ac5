// Package llmgateway is the single seam every stage calls through to reach a
// language model: a named-agent registry, breaker-wrapped invocation, and
// prompt/response sanitization so raw external error text never crosses into
// a prompt. Grounded on the teacher's provider-agnostic adapter pattern
// (swap the concrete backend behind a narrow interface) and on
// common/mlog's sanitizers for the redaction step.
package llmgateway

import (
	"context"
	"fmt"

	"github.com/lerianstudio/nl2sql/internal/pipelineerr"
	"github.com/lerianstudio/nl2sql/internal/redact"
	"github.com/lerianstudio/nl2sql/internal/resilience"
)

// Request is one call into a language model.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	// MaxTokens bounds the response size; 0 means use the agent's default.
	MaxTokens int
	// Temperature controls sampling; agents decide how to interpret 0.
	Temperature float64
}

// Response is what an Agent returns for one Request.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Agent is a single named, swappable LLM backend (e.g. "gpt-4o",
// "claude-sonnet", "local-llama"). ConfigureLLM/GetLLM/ListLLMs in the
// Engine façade (§6.1) operate over a set of registered Agents.
type Agent interface {
	Name() string
	Invoke(ctx context.Context, req Request) (Response, error)
}

// Gateway wraps a set of named Agents with a shared circuit breaker and a
// sanitization boundary, so no stage ever calls an Agent directly.
type Gateway struct {
	agents  map[string]Agent
	active  string
	breaker *resilience.Breaker
}

// NewGateway builds a Gateway with no active agent set; call SetActive
// before Invoke, which fails with ADAPTER_UNAVAILABLE while none is set.
func NewGateway(breaker *resilience.Breaker) *Gateway {
	return &Gateway{agents: make(map[string]Agent), breaker: breaker}
}

// Register adds or replaces an agent under its own Name().
func (g *Gateway) Register(a Agent) {
	g.agents[a.Name()] = a
}

// SetActive selects which registered agent Invoke uses, the backing
// operation for ConfigureLLM.
func (g *Gateway) SetActive(name string) error {
	if _, ok := g.agents[name]; !ok {
		return pipelineerr.New(pipelineerr.CodeAdapterUnavailable, "no LLM agent registered as "+name)
	}

	g.active = name

	return nil
}

// Active returns the name of the currently selected agent, read by the
// engine's ConfigureLLM and ValidateConfiguration.
func (g *Gateway) Active() string {
	return g.active
}

// List returns every registered agent name, the backing operation for
// ListLLMs.
func (g *Gateway) List() []string {
	names := make([]string, 0, len(g.agents))
	for name := range g.agents {
		names = append(names, name)
	}

	return names
}

// Invoke calls the active agent through the breaker, sanitizing req's
// prompts first. A gobreaker-open error surfaces as CodeBreakerOpen; any
// other agent error is wrapped as CodeExecutionFailed with a redacted
// message so the raw provider error text never propagates further (e.g.
// into a refiner prompt) than this boundary.
func (g *Gateway) Invoke(ctx context.Context, req Request) (Response, error) {
	if g.active == "" {
		return Response{}, pipelineerr.New(pipelineerr.CodeAdapterUnavailable, "no LLM agent configured")
	}

	agent, ok := g.agents[g.active]
	if !ok {
		return Response{}, pipelineerr.New(pipelineerr.CodeAdapterUnavailable, "configured LLM agent "+g.active+" is not registered")
	}

	req.SystemPrompt = Sanitize(req.SystemPrompt)
	req.UserPrompt = Sanitize(req.UserPrompt)

	result, err := g.breaker.Execute(ctx, func(ctx context.Context) (any, error) {
		return agent.Invoke(ctx, req)
	})
	if err != nil {
		if pe, ok := pipelineerr.As(err); ok && pe.Code == pipelineerr.CodeBreakerOpen {
			return Response{}, err
		}

		return Response{}, pipelineerr.Wrap(pipelineerr.CodeExecutionFailed,
			fmt.Sprintf("LLM agent %s invocation failed", g.active), err)
	}

	return result.(Response), nil
}
