package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks admission and cache statistics for the layer.
type Metrics struct {
	totalRequests   atomic.Int64
	allowedRequests atomic.Int64
	blockedRequests atomic.Int64
	bannedRequests  atomic.Int64
	cacheHits       atomic.Int64
	cacheMisses     atomic.Int64

	mu          sync.RWMutex
	clientStats map[string]*ClientStats
	startTime   time.Time
}

// ClientStats tracks statistics for a specific identity key.
type ClientStats struct {
	ClientID        string    `json:"client_id"`
	TotalRequests   int64     `json:"total_requests"`
	AllowedRequests int64     `json:"allowed_requests"`
	BlockedRequests int64     `json:"blocked_requests"`
	FirstRequestAt  time.Time `json:"first_request_at"`
	LastRequestAt   time.Time `json:"last_request_at"`
}

// NewMetrics creates a new metrics tracker.
func NewMetrics() *Metrics {
	return &Metrics{
		clientStats: make(map[string]*ClientStats),
		startTime:   time.Now(),
	}
}

// RecordRequest records one admission decision for clientID.
func (m *Metrics) RecordRequest(clientID string, allowed bool) {
	m.totalRequests.Add(1)
	if allowed {
		m.allowedRequests.Add(1)
	} else {
		m.blockedRequests.Add(1)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stats, exists := m.clientStats[clientID]
	if !exists {
		stats = &ClientStats{
			ClientID:       clientID,
			FirstRequestAt: time.Now(),
		}
		m.clientStats[clientID] = stats
	}
	stats.TotalRequests++
	if allowed {
		stats.AllowedRequests++
	} else {
		stats.BlockedRequests++
	}
	stats.LastRequestAt = time.Now()
}

// RecordBan records a request rejected because its identity is banned.
func (m *Metrics) RecordBan(clientID string) {
	m.bannedRequests.Add(1)
	m.RecordRequest(clientID, false)
}

// RecordCacheHit records a response served from the cache.
func (m *Metrics) RecordCacheHit() { m.cacheHits.Add(1) }

// RecordCacheMiss records a request that had to go upstream.
func (m *Metrics) RecordCacheMiss() { m.cacheMisses.Add(1) }

// Snapshot is a point-in-time view of the metrics.
type Snapshot struct {
	TotalRequests   int64          `json:"total_requests"`
	AllowedRequests int64          `json:"allowed_requests"`
	BlockedRequests int64          `json:"blocked_requests"`
	BannedRequests  int64          `json:"banned_requests"`
	CacheHits       int64          `json:"cache_hits"`
	CacheMisses     int64          `json:"cache_misses"`
	UniqueClients   int64          `json:"unique_clients"`
	TopClients      []*ClientStats `json:"top_clients"`
	UptimeSeconds   int64          `json:"uptime_seconds"`
	StartTime       time.Time      `json:"start_time"`
}

// GetSnapshot returns the current metrics, with the ten busiest identities.
func (m *Metrics) GetSnapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	topClients := make([]*ClientStats, 0, len(m.clientStats))
	for _, stats := range m.clientStats {
		copied := *stats
		topClients = append(topClients, &copied)
	}
	sort.Slice(topClients, func(i, j int) bool {
		return topClients[i].TotalRequests > topClients[j].TotalRequests
	})
	if len(topClients) > 10 {
		topClients = topClients[:10]
	}

	return &Snapshot{
		TotalRequests:   m.totalRequests.Load(),
		AllowedRequests: m.allowedRequests.Load(),
		BlockedRequests: m.blockedRequests.Load(),
		BannedRequests:  m.bannedRequests.Load(),
		CacheHits:       m.cacheHits.Load(),
		CacheMisses:     m.cacheMisses.Load(),
		UniqueClients:   int64(len(m.clientStats)),
		TopClients:      topClients,
		UptimeSeconds:   int64(time.Since(m.startTime).Seconds()),
		StartTime:       m.startTime,
	}
}
