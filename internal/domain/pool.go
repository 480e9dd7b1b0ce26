package domain

import "time"

// PooledConnection is the telemetry view of one pooled transport.
type PooledConnection struct {
	Key             string    `json:"key"`
	Host            string    `json:"host"`
	Port            int       `json:"port"`
	MessageCount    int64     `json:"messageCount"`
	ConnectionCount int64     `json:"connectionCount"`
	OpenConnections int       `json:"openConnections"`
	CreatedAt       time.Time `json:"createdAt"`
	LastUsed        time.Time `json:"lastUsed"`
	// Age is milliseconds since the transport was created.
	Age int64 `json:"age"`
}

// PoolSnapshot is a read-only view of pool occupancy.
type PoolSnapshot struct {
	TotalConnections int                `json:"totalConnections"`
	PerKey           []PooledConnection `json:"perKey"`
}

// QueueStats summarises the bulk queue.
type QueueStats struct {
	Delayed    int64 `json:"delayed"`
	Active     int64 `json:"active"`
	DeadLetter int64 `json:"deadLetter"`
	Completed  int64 `json:"completed"`
}
