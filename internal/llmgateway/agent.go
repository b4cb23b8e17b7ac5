package llmgateway

import "context"

// StaticAgent is a deterministic Agent that always returns the same response
// regardless of input, used for local development and tests where no real
// provider credentials are configured.
type StaticAgent struct {
	AgentName string
	Response  Response
	Err       error
}

func (a *StaticAgent) Name() string { return a.AgentName }

func (a *StaticAgent) Invoke(ctx context.Context, req Request) (Response, error) {
	if a.Err != nil {
		return Response{}, a.Err
	}

	return a.Response, nil
}
