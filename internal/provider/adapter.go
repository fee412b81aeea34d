package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Result is the envelope returned by a successful invocation and persisted
// alongside the execution.
type Result struct {
	Service   string          `json:"service"`
	Operation string          `json:"operation"`
	Data      json.RawMessage `json:"data"`
	RequestID string          `json:"request_id,omitempty"`
	Success   bool            `json:"success"`
}

type subClient struct {
	service  string
	endpoint string
	// ops maps normalized names back to the canonical action.
	ops map[string]string
}

// Adapter multiplexes one category's sub-clients over a shared transport.
// Adapters are built per execution and hold no mutable state.
type Adapter struct {
	category  Category
	transport Transport
	clients   map[string]subClient
}

// NewAdapter builds the adapter for a category. Every category has a client
// table; an unknown category yields an adapter with no sub-clients, and every
// invocation against it fails as unsupported.
func NewAdapter(category Category, t Transport) *Adapter {
	a := &Adapter{category: category, transport: t, clients: map[string]subClient{}}
	for service, spec := range categoryClients[category] {
		c := subClient{service: service, endpoint: spec.endpoint, ops: make(map[string]string, len(spec.ops))}
		if c.endpoint == "" {
			c.endpoint = service
		}
		for _, op := range spec.ops {
			c.ops[normalizeOperation(op)] = op
		}
		a.clients[service] = c
	}
	return a
}

func (a *Adapter) Category() Category { return a.category }

// Operations returns the canonical operation names a service supports, or nil
// when the service is not in this adapter's category.
func (a *Adapter) Operations(service string) []string {
	c, ok := a.clients[strings.ToLower(strings.TrimSpace(service))]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(c.ops))
	for _, canonical := range c.ops {
		out = append(out, canonical)
	}
	return out
}

// Invoke routes one operation to the sub-client named by params["service"].
// Operation names match case- and separator-insensitively, so list_buckets,
// ListBuckets and listbuckets all resolve to the same call. The service key
// is consumed here and not forwarded to the provider.
func (a *Adapter) Invoke(ctx context.Context, operation string, params map[string]any) (Result, error) {
	service, _ := params["service"].(string)
	service = strings.ToLower(strings.TrimSpace(service))
	client, ok := a.clients[service]
	if !ok {
		return Result{}, NewFault(FaultUnsupportedOperation, "",
			fmt.Sprintf("service %q has no client in category %s", service, a.category))
	}
	canonical, ok := client.ops[normalizeOperation(operation)]
	if !ok {
		return Result{}, NewFault(FaultUnsupportedOperation, "",
			fmt.Sprintf("operation %q is not supported for service %s", operation, service))
	}
	callParams := make(map[string]any, len(params))
	for k, v := range params {
		if k == "service" {
			continue
		}
		callParams[k] = v
	}
	resp, err := a.transport.Call(ctx, client.endpoint, canonical, callParams)
	if err != nil {
		return Result{}, Classify(err)
	}
	return Result{
		Service:   service,
		Operation: canonical,
		Data:      resp.Data,
		RequestID: resp.RequestID,
		Success:   true,
	}, nil
}

func normalizeOperation(op string) string {
	op = strings.ToLower(strings.TrimSpace(op))
	op = strings.ReplaceAll(op, "_", "")
	return strings.ReplaceAll(op, "-", "")
}
