package probe

import (
	"context"
	"fmt"
	"sync"

	consulapi "github.com/hashicorp/consul/api"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// serviceHealth is the slice of the Consul health endpoint the prober needs.
type serviceHealth interface {
	Service(service, tag string, passingOnly bool, q *consulapi.QueryOptions) ([]*consulapi.ServiceEntry, *consulapi.QueryMeta, error)
}

// ConsulProber watches the health of a Consul service. Each instance whose aggregated
// check status differs from the previous probe counts as one change.
//
// Recognised parameters: service (required), tag.
type ConsulProber struct {
	health serviceHealth

	mu       sync.Mutex
	statuses map[string]map[string]string
}

// NewConsulProber connects to the agent at addr.
func NewConsulProber(addr, token string) (*ConsulProber, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	if token != "" {
		cfg.Token = token
	}
	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	return newConsulProber(client.Health()), nil
}

func newConsulProber(health serviceHealth) *ConsulProber {
	return &ConsulProber{health: health, statuses: make(map[string]map[string]string)}
}

func (p *ConsulProber) Probe(ctx context.Context, src models.Source) (models.ProbeResult, error) {
	service := src.StringParam("service", "")
	if service == "" {
		return models.ProbeResult{}, fmt.Errorf("source %s: query_parameters.service is required", src.ID)
	}

	entries, _, err := p.health.Service(service, src.StringParam("tag", ""), false, (&consulapi.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return models.ProbeResult{}, fmt.Errorf("consul health %s: %w", service, err)
	}

	current := make(map[string]string, len(entries))
	passing := 0
	for _, entry := range entries {
		status := aggregateChecks(entry.Checks)
		if status == consulapi.HealthPassing {
			passing++
		}
		current[instanceKey(entry)] = status
	}

	p.mu.Lock()
	previous, seen := p.statuses[src.ID]
	p.statuses[src.ID] = current
	p.mu.Unlock()

	changes := 0
	if seen {
		for key, status := range current {
			if previous[key] != status {
				changes++
			}
		}
		for key := range previous {
			if _, ok := current[key]; !ok {
				changes++
			}
		}
	}

	confidence := 0.0
	if len(entries) > 0 {
		confidence = float64(passing) / float64(len(entries))
	}
	return models.ProbeResult{
		DataPoints:      len(entries),
		ChangesDetected: changes,
		Success:         true,
		ConfidenceScore: confidence,
	}, nil
}

func instanceKey(entry *consulapi.ServiceEntry) string {
	node, id := "", ""
	if entry.Node != nil {
		node = entry.Node.Node
	}
	if entry.Service != nil {
		id = entry.Service.ID
	}
	return node + "/" + id
}

// aggregateChecks reports the worst status among an instance's checks.
func aggregateChecks(checks consulapi.HealthChecks) string {
	worst := consulapi.HealthPassing
	for _, check := range checks {
		switch check.Status {
		case consulapi.HealthCritical:
			return consulapi.HealthCritical
		case consulapi.HealthWarning:
			worst = consulapi.HealthWarning
		}
	}
	return worst
}
