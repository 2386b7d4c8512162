package gateway

import (
	"context"
	"sort"
	"strings"

	"payment-collection-broker/internal/core/domain"
	"payment-collection-broker/internal/core/ports"
)

// Registry routes submissions to the client registered for req.Provider.
type Registry struct {
	clients map[string]ports.GatewayClient
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]ports.GatewayClient)}
}

// Register adds or replaces the client for provider. Not safe for use after
// the registry starts serving.
func (r *Registry) Register(provider string, client ports.GatewayClient) {
	r.clients[normalize(provider)] = client
}

func (r *Registry) Supports(provider string) bool {
	_, ok := r.clients[normalize(provider)]
	return ok
}

// Providers lists registered provider names in order.
func (r *Registry) Providers() []string {
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Submit(ctx context.Context, req domain.UpstreamRequest) domain.Outcome {
	client, ok := r.clients[normalize(req.Provider)]
	if !ok {
		return domain.Rejected("unsupported provider")
	}
	return client.Submit(ctx, req)
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
