// internal/aggregate/state.go
// Package aggregate owns the running counters maintained over accepted
// login events: three categorical tables and a minute-granularity
// traffic histogram. The state is mutated only through Observe and
// read only through Snapshot, which returns defensive copies so
// reporting never races with mutation.
package aggregate

import (
	"sync"
	"time"

	"github.com/dipen321/kafka-pipeline/internal/event"
)

// bucketLayout formats a timestamp truncated to minute granularity.
const bucketLayout = "2006-01-02 15:04"

// BucketKey derives the traffic histogram bucket for an epoch-seconds
// timestamp. Timestamps within the same UTC minute share a key.
func BucketKey(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(bucketLayout)
}

// Snapshot is a point-in-time copy of the aggregation state. The maps
// are owned by the caller and never alias live state.
type Snapshot struct {
	Accepted    uint64            `json:"accepted"`
	DeviceTypes map[string]uint64 `json:"device_type_counts"`
	AppVersions map[string]uint64 `json:"app_version_counts"`
	Locales     map[string]uint64 `json:"locale_counts"`
	Traffic     map[string]uint64 `json:"traffic_histogram"`
}

// State holds the counters for one pipeline instance. Process-local,
// lost on restart.
type State struct {
	mu          sync.Mutex
	accepted    uint64
	deviceTypes map[string]uint64
	appVersions map[string]uint64
	locales     map[string]uint64
	traffic     map[string]uint64

	// retention evicts traffic buckets older than this; 0 disables
	// pruning and the histogram grows for the process lifetime.
	retention  time.Duration
	lastBucket string
	now        func() time.Time
}

// NewState constructs empty aggregation state with the given traffic
// bucket retention window.
func NewState(retention time.Duration) *State {
	return &State{
		deviceTypes: make(map[string]uint64),
		appVersions: make(map[string]uint64),
		locales:     make(map[string]uint64),
		traffic:     make(map[string]uint64),
		retention:   retention,
		now:         time.Now,
	}
}

// Observe folds one accepted event into every counter table. Missing
// dimension values are counted under their literal value, including
// the empty string, so no accepted event is silently lost.
func (s *State) Observe(ev event.Processed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accepted++
	s.deviceTypes[ev.DeviceType]++
	s.appVersions[ev.AppVersion]++
	s.locales[ev.Locale]++

	bucket := ev.Bucket
	if bucket == "" {
		bucket = BucketKey(ev.Timestamp)
	}
	s.traffic[bucket]++
	if bucket != s.lastBucket {
		s.lastBucket = bucket
		s.pruneLocked()
	}
}

// pruneLocked evicts traffic buckets older than the retention window.
// Bucket keys sort lexicographically in time order, so a single cutoff
// key comparison suffices. Called with the lock held, at most once per
// observed minute.
func (s *State) pruneLocked() {
	if s.retention <= 0 {
		return
	}
	cutoff := s.now().UTC().Add(-s.retention).Format(bucketLayout)
	for k := range s.traffic {
		if k < cutoff {
			delete(s.traffic, k)
		}
	}
}

// Snapshot returns a read-only copy of all counter tables. The copy is
// taken under the same lock Observe holds, and nothing else ever holds
// that lock across a blocking call.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Accepted:    s.accepted,
		DeviceTypes: cloneCounts(s.deviceTypes),
		AppVersions: cloneCounts(s.appVersions),
		Locales:     cloneCounts(s.locales),
		Traffic:     cloneCounts(s.traffic),
	}
}

// Accepted returns the number of events observed since process start.
func (s *State) Accepted() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

func cloneCounts(in map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
