package llm

import (
	"context"
	"fmt"
)

// Router dispatches a Request to the provider backend its Model resolves to
// via Registry, translating the short model id to each backend's canonical
// identifier before the call. Stage handlers depend on a single Provider;
// Router is what lets them all share one without switching on model name
// themselves.
type Router struct {
	Registry  *Registry
	Providers map[string]Provider // keyed by ModelInfo.Provider ("anthropic", "bedrock", "openai")
}

// NewRouter builds a Router over registry and the given backend providers.
func NewRouter(registry *Registry, providers map[string]Provider) *Router {
	return &Router{Registry: registry, Providers: providers}
}

func (r *Router) Complete(ctx context.Context, req Request) (Response, error) {
	info, err := r.Registry.Resolve(req.Model)
	if err != nil {
		return Response{}, fmt.Errorf("llm: router: %w", err)
	}
	provider, ok := r.Providers[info.Provider]
	if !ok {
		return Response{}, fmt.Errorf("llm: router: no provider wired for backend %q (model %q)", info.Provider, req.Model)
	}
	req.Model = info.CanonicalID
	return provider.Complete(ctx, req)
}
