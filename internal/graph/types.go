// Package graph builds the network topology tables handed to the reward
// computation: devices, private links, public internet links, and the
// validator-driven demand matrix.
package graph

// Device is one routable device with a city-scoped identifier such as NYC01.
// Operator is the owning contributor's wallet.
type Device struct {
	ID       string  `json:"device"`
	Operator string  `json:"operator"`
	Edge     float64 `json:"edge"` // edge bandwidth in Gbps
}

// PrivateLink is a contributor-operated circuit between two devices.
type PrivateLink struct {
	Device1   string  `json:"device1"`
	Device2   string  `json:"device2"`
	LatencyMs float64 `json:"latency_ms"`
	Bandwidth float64 `json:"bandwidth_gbps"`
	Uptime    float64 `json:"uptime"`
}

// PublicLink is the measured public internet path between two cities. The
// city pair is unordered and stored alphabetically.
type PublicLink struct {
	City1     string  `json:"city1"`
	City2     string  `json:"city2"`
	LatencyMs float64 `json:"latency_ms"`
}

// Demand is one directed traffic requirement between cities, weighted by the
// destination's share of validator stake.
type Demand struct {
	Start     string  `json:"start"`
	End       string  `json:"end"`
	Receivers int     `json:"receivers"`
	Traffic   float64 `json:"traffic"`
	Priority  float64 `json:"priority"`
	Kind      int     `json:"kind"`
	Multicast bool    `json:"multicast"`
}

// NetworkGraph is the complete topology input for one epoch's calculation.
type NetworkGraph struct {
	Epoch        uint64        `json:"epoch"`
	Devices      []Device      `json:"devices"`
	PrivateLinks []PrivateLink `json:"private_links"`
	PublicLinks  []PublicLink  `json:"public_links"`
	Demands      []Demand      `json:"demands"`
}
