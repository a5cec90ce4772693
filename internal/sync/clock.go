// ABOUTME: Clock synchronization with a streaming server
// ABOUTME: Tracks offset and drift from NTP-style time exchanges
package sync

import (
	"log/slog"
	"sync"
	"time"
)

// Quality represents sync quality.
type Quality int

const (
	QualityGood Quality = iota
	QualityDegraded
	QualityLost
)

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityDegraded:
		return "degraded"
	default:
		return "lost"
	}
}

const (
	maxRTT      = 100000 // µs, samples above are discarded
	goodRTT     = 50000  // µs
	maxResidual = 50000  // µs, larger prediction errors are clock jumps
	lostAfter   = 5 * time.Second
)

// ClockSync estimates server time from client/time and server/time
// exchanges. It keeps both the offset and the drift between the clocks.
type ClockSync struct {
	mu             sync.RWMutex
	log            *slog.Logger
	now            func() time.Time
	offset         int64   // server - client, µs
	drift          float64 // µs of offset change per client µs
	rtt            int64
	quality        Quality
	lastSync       time.Time
	lastSyncMicros int64 // client µs at the last accepted sample
	samples        int
	smoothing      float64
}

// NewClockSync creates a synchronizer. now defaults to time.Now.
func NewClockSync(log *slog.Logger, now func() time.Time) *ClockSync {
	if log == nil {
		log = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &ClockSync{
		log:       log.With("component", "clocksync"),
		now:       now,
		smoothing: 0.1,
		quality:   QualityLost,
	}
}

// ClientMicros is the local clock in µs.
func (cs *ClockSync) ClientMicros() int64 {
	return cs.now().UnixMicro()
}

// ProcessSyncResponse folds in one exchange: t1 client send, t2 server
// receive, t3 server send, t4 client receive.
func (cs *ClockSync) ProcessSyncResponse(t1, t2, t3, t4 int64) {
	rtt, measured := calculateOffset(t1, t2, t3, t4)

	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.rtt = rtt
	cs.lastSync = cs.now()
	if rtt > maxRTT {
		cs.log.Debug("discarding sync sample", "reason", "rtt", "rtt_us", rtt)
		return
	}

	switch cs.samples {
	case 0:
		cs.offset = measured
		cs.log.Info("initial clock sync", "offset_us", measured, "rtt_us", rtt)
	case 1:
		if dt := float64(t4 - cs.lastSyncMicros); dt > 0 {
			cs.drift = float64(measured-cs.offset) / dt
		}
		cs.offset = measured
	default:
		dt := float64(t4 - cs.lastSyncMicros)
		if dt <= 0 {
			cs.log.Debug("discarding sync sample", "reason", "non-monotonic")
			return
		}
		predicted := cs.offset + int64(cs.drift*dt)
		residual := measured - predicted
		if residual > maxResidual || residual < -maxResidual {
			cs.log.Debug("discarding sync sample", "reason", "clock jump", "residual_us", residual)
			return
		}
		cs.offset = predicted + int64(cs.smoothing*float64(residual))
		cs.drift += cs.smoothing * float64(residual) / dt
	}
	cs.lastSyncMicros = t4
	cs.samples++
	cs.quality = QualityGood
	if rtt >= goodRTT {
		cs.quality = QualityDegraded
	}
}

func calculateOffset(t1, t2, t3, t4 int64) (rtt, offset int64) {
	rtt = (t4 - t1) - (t3 - t2)
	offset = ((t2 - t1) + (t3 - t4)) / 2
	return rtt, offset
}

// Synced reports whether at least one sample was accepted.
func (cs *ClockSync) Synced() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.samples > 0
}

// Stats returns the offset, round trip and quality.
func (cs *ClockSync) Stats() (offset, rtt int64, quality Quality) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.samples > 0 && cs.now().Sub(cs.lastSync) > lostAfter {
		cs.quality = QualityLost
	}
	return cs.offset, cs.rtt, cs.quality
}

// ServerMicros converts a client time to server time.
func (cs *ClockSync) ServerMicros(client int64) int64 {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if cs.samples == 0 {
		return client
	}
	return client + cs.offset + int64(cs.drift*float64(client-cs.lastSyncMicros))
}

// ServerNow is the current server time in µs.
func (cs *ClockSync) ServerNow() int64 {
	return cs.ServerMicros(cs.ClientMicros())
}

// ClientTime converts a server time to local wall clock time.
func (cs *ClockSync) ClientTime(server int64) time.Time {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if cs.samples == 0 {
		return time.UnixMicro(server)
	}
	num := float64(server) - float64(cs.offset) + cs.drift*float64(cs.lastSyncMicros)
	return time.UnixMicro(int64(num / (1 + cs.drift)))
}
