// Package types defines the JSON bodies served by the relay admin API.
package types

// HealthResponse is the response from /api/v1/health
type HealthResponse struct {
	Status string `json:"status"`
	Uptime int64  `json:"uptime"`
}

// ShardStats is one shard's occupancy.
type ShardStats struct {
	Shard     int `json:"shard"`
	Legs      int `json:"legs"`
	Pending   int `json:"pending"`
	Active    int `json:"active"`
	Calls     int `json:"calls"`
	FreePorts int `json:"free_ports"`
}

// StatsResponse is the response from /api/v1/stats
type StatsResponse struct {
	TotalLegs      int          `json:"total_legs"`
	ActiveLegs     int          `json:"active_legs"`
	ActiveCalls    int          `json:"active_calls"`
	TotalFreePorts int          `json:"total_free_ports"`
	Shards         []ShardStats `json:"shards"`
}

// Leg represents one relayed leg.
type Leg struct {
	ID          string  `json:"id"`
	CallID      string  `json:"call_id"`
	LegID       string  `json:"leg_id"`
	State       string  `json:"state"`
	Port        int     `json:"port"`
	Local       string  `json:"local"`
	Remote      string  `json:"remote"`
	Duration    int     `json:"duration"`
	CreatedAt   string  `json:"created_at"`
	PacketsIn   uint64  `json:"packets_in"`
	PacketsOut  uint64  `json:"packets_out"`
	BytesIn     uint64  `json:"bytes_in"`
	BytesOut    uint64  `json:"bytes_out"`
	Lost        uint64  `json:"lost"`
	LossRate    float64 `json:"loss_rate"`
	SSRC        uint32  `json:"ssrc,omitempty"`
	PayloadType uint8   `json:"payload_type,omitempty"`
}
