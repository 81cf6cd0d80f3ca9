package overlay

import (
	"log/slog"
	"sync"

	"overlay-sync/internal/platform/metrics"
)

// Pool names a group of connections serving one client role.
type Pool string

const (
	// PoolControl holds the command-issuing control panels.
	PoolControl Pool = "control"
	// PoolOverlay holds the render clients that display the composition.
	PoolOverlay Pool = "overlay"
)

// Conn is the write side of one client connection. Implementations must be
// safe for concurrent writes.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// ConnectionRegistry tracks live connections partitioned into the control
// and overlay pools and fans messages out to them. Delivery is best-effort,
// at most once per recipient per call: a recipient whose send fails is
// evicted from its pool and never retried, and a slow or dead recipient
// never blocks delivery to the others.
type ConnectionRegistry struct {
	mu      sync.RWMutex
	pools   map[Pool]map[Conn]struct{}
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewConnectionRegistry constructs a registry with empty control and overlay
// pools. Metrics may be nil to disable metric recording (e.g. in tests).
func NewConnectionRegistry(log *slog.Logger, m *metrics.Metrics) *ConnectionRegistry {
	return &ConnectionRegistry{
		pools: map[Pool]map[Conn]struct{}{
			PoolControl: make(map[Conn]struct{}),
			PoolOverlay: make(map[Conn]struct{}),
		},
		log:     log,
		metrics: m,
	}
}

// Register adds the connection to the named pool.
func (r *ConnectionRegistry) Register(conn Conn, pool Pool) {
	r.mu.Lock()
	r.pools[pool][conn] = struct{}{}
	total := len(r.pools[pool])
	r.mu.Unlock()

	r.log.Info("client connected", slog.String("pool", string(pool)), slog.Int("pool_size", total))
}

// Unregister removes the connection from the named pool. Removing an absent
// connection is a no-op, so the send-failure path and the disconnect path
// can both call it.
func (r *ConnectionRegistry) Unregister(conn Conn, pool Pool) {
	r.mu.Lock()
	_, present := r.pools[pool][conn]
	delete(r.pools[pool], conn)
	total := len(r.pools[pool])
	r.mu.Unlock()

	if present {
		r.log.Info("client disconnected", slog.String("pool", string(pool)), slog.Int("pool_size", total))
	}
}

// Broadcast sends the message to every connection in the pool except
// exclude (which may be nil). Each failed recipient is evicted from the
// pool and closed; the broadcast always attempts delivery to the remaining
// recipients. Returns the number of successful sends.
func (r *ConnectionRegistry) Broadcast(pool Pool, message any, exclude Conn) int {
	// Snapshot the membership so concurrent register/unregister calls
	// cannot race the iteration.
	r.mu.RLock()
	members := make([]Conn, 0, len(r.pools[pool]))
	for conn := range r.pools[pool] {
		members = append(members, conn)
	}
	r.mu.RUnlock()

	sent := 0
	var failed []Conn
	for _, conn := range members {
		if conn == exclude {
			continue
		}
		if err := conn.WriteJSON(message); err != nil {
			r.log.Warn("broadcast send failed",
				slog.String("pool", string(pool)),
				slog.String("error", err.Error()))
			failed = append(failed, conn)
			continue
		}
		sent++
	}

	for _, conn := range failed {
		r.Unregister(conn, pool)
		if cerr := conn.Close(); cerr != nil {
			r.log.Debug("close after failed send", slog.String("error", cerr.Error()))
		}
	}

	if r.metrics != nil {
		r.metrics.AddBroadcastSends(sent)
		r.metrics.AddSendFailures(len(failed))
	}
	r.log.Debug("broadcast", slog.String("pool", string(pool)), slog.Int("sent", sent))
	return sent
}

// SendTo sends the message to a single connection. Unlike Broadcast it does
// not evict on failure; eviction for targeted sends is the caller's
// responsibility.
func (r *ConnectionRegistry) SendTo(conn Conn, message any) error {
	return conn.WriteJSON(message)
}

// Counts returns a snapshot of pool sizes for health and diagnostics.
func (r *ConnectionRegistry) Counts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	control := len(r.pools[PoolControl])
	overlay := len(r.pools[PoolOverlay])
	return map[string]int{
		"control": control,
		"overlay": overlay,
		"total":   control + overlay,
	}
}
