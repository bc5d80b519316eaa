package calculator

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/malbeclabs/doublezero-rewards/internal/graph"
	"github.com/malbeclabs/doublezero-rewards/internal/merkle"
)

// CapacityComputer allocates the epoch reward pool across operators in
// proportion to the capacity they keep online: each private link contributes
// bandwidth weighted by measured uptime, split evenly between its endpoint
// operators, plus each device's edge bandwidth. Deterministic for a given
// graph, so recomputation always reproduces the same merkle root.
type CapacityComputer struct {
	// RewardPool is the total value distributed per epoch.
	RewardPool float64
}

func NewCapacityComputer(rewardPool float64) (*CapacityComputer, error) {
	if rewardPool <= 0 {
		return nil, errors.New("reward pool must be positive")
	}
	return &CapacityComputer{RewardPool: rewardPool}, nil
}

func (c *CapacityComputer) Compute(_ context.Context, g *graph.NetworkGraph) ([]merkle.RewardDetail, error) {
	operatorByDevice := make(map[string]string, len(g.Devices))
	weights := make(map[string]float64)
	for _, dev := range g.Devices {
		operatorByDevice[dev.ID] = dev.Operator
		weights[dev.Operator] += dev.Edge
	}

	for _, link := range g.PrivateLinks {
		contribution := link.Bandwidth * link.Uptime / 2
		for _, deviceID := range []string{link.Device1, link.Device2} {
			operator, ok := operatorByDevice[deviceID]
			if !ok {
				return nil, fmt.Errorf("link references unknown device %s", deviceID)
			}
			weights[operator] += contribution
		}
	}

	var total float64
	for _, w := range weights {
		total += w
	}
	if total == 0 {
		return nil, errors.New("no operator capacity in graph")
	}

	operators := make([]string, 0, len(weights))
	for op := range weights {
		operators = append(operators, op)
	}
	sort.Strings(operators)

	rewards := make([]merkle.RewardDetail, 0, len(operators))
	for _, op := range operators {
		proportion := weights[op] / total
		rewards = append(rewards, merkle.RewardDetail{
			Operator:   op,
			Value:      proportion * c.RewardPool,
			Proportion: proportion,
		})
	}
	return rewards, nil
}
