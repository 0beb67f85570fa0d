package tenant

import (
	"context"
	"fmt"
	"strings"
)

// GroupSuffix is appended to a tenant id to form its consumer group.
const GroupSuffix = "_group"

// TopicLister exposes the bus topic catalogue, normally backed by the Kafka
// admin client.
type TopicLister interface {
	ListTopics(ctx context.Context) ([]string, error)
}

// Resolver maps tenant identifiers to their subscribed topics, consumer
// group names, and default destination indexes. Tenant traffic is isolated
// by the "<tenant>_" topic prefix.
type Resolver struct {
	lister TopicLister
}

func NewResolver(lister TopicLister) *Resolver {
	return &Resolver{lister: lister}
}

// TopicsForTenant returns every bus topic prefixed by the tenant id.
func (r *Resolver) TopicsForTenant(ctx context.Context, tenantID string) ([]string, error) {
	topics, err := r.lister.ListTopics(ctx)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}

	prefix := tenantID + "_"
	var matched []string
	for _, topic := range topics {
		if strings.HasPrefix(topic, prefix) {
			matched = append(matched, topic)
		}
	}
	return matched, nil
}

// GroupForTenant returns the deterministic consumer group for a tenant.
func GroupForTenant(tenantID string) string {
	return tenantID + GroupSuffix
}

// DefaultIndex derives the destination index from a topic by stripping the
// tenant prefix. A topic without the prefix maps to itself.
func DefaultIndex(topic, tenantID string) string {
	return strings.TrimPrefix(topic, tenantID+"_")
}

// ParseTenants splits a comma-separated tenant list, trimming blanks.
func ParseTenants(raw string) []string {
	if raw == "" {
		return nil
	}
	var tenants []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tenants = append(tenants, part)
	}
	return tenants
}
