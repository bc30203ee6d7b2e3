package workflow

import (
	"fmt"

	"github.com/tenzoki/rfpflow/internal/comm"
)

// selectAgent picks the best available agent of agentType: lowest
// current queue size, breaking ties by lowest recent p95 latency, then
// by registration order.
// `unavailable` agents are already excluded by Manager.AvailableByType.
func selectAgent(m *comm.Manager, agentType string) (string, error) {
	candidates := m.AvailableByType(agentType)
	if len(candidates) == 0 {
		return "", fmt.Errorf("workflow: no available agent of type %q", agentType)
	}

	best := candidates[0]
	bestSize := m.QueueSize(best.AgentID)
	_, bestP95, _ := m.RecipientPercentiles(best.AgentID)

	for _, c := range candidates[1:] {
		size := m.QueueSize(c.AgentID)
		if size > bestSize {
			continue
		}
		if size < bestSize {
			best, bestSize = c, size
			_, bestP95, _ = m.RecipientPercentiles(c.AgentID)
			continue
		}
		_, p95, _ := m.RecipientPercentiles(c.AgentID)
		if p95 < bestP95 {
			best, bestP95 = c, p95
		}
		// equal size and p95: candidates are already registration-ordered,
		// so the earlier one (already `best`) wins.
	}
	return best.AgentID, nil
}
