// internal/pipeline/filter.go
package pipeline

import (
	"github.com/dipen321/kafka-pipeline/internal/aggregate"
	"github.com/dipen321/kafka-pipeline/internal/event"
)

// Filter applies the inclusion predicate and field-level enrichment
// that turn a raw event into a processed one. Transformation is pure
// and total for any accepted event: malformed input never reaches this
// stage.
type Filter struct {
	allowed map[string]struct{}
}

// NewFilter builds the predicate from the allowed app_version set. An
// empty set accepts every event.
func NewFilter(allowedVersions []string) *Filter {
	f := &Filter{}
	if len(allowedVersions) > 0 {
		f.allowed = make(map[string]struct{}, len(allowedVersions))
		for _, v := range allowedVersions {
			f.allowed[v] = struct{}{}
		}
	}
	return f
}

// Apply evaluates the predicate and, for accepted events, returns the
// enriched processed event: the processed marker set and the traffic
// bucket derived from the timestamp. Rejected events return ok=false
// and are not forwarded downstream.
func (f *Filter) Apply(raw event.Raw) (event.Processed, bool) {
	if f.allowed != nil {
		if _, ok := f.allowed[raw.AppVersion]; !ok {
			return event.Processed{}, false
		}
	}
	return event.Processed{
		Raw:       raw,
		Processed: true,
		Bucket:    aggregate.BucketKey(raw.Timestamp),
	}, true
}
