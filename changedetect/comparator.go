package changedetect

import (
	"encoding/json"
	"sync"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/c360/cachescope/snapshot"
)

// QueryDigest holds the fields of a query whose change warrants a push.
type QueryDigest struct {
	QueryHash          string
	Data               any
	Error              *snapshot.ErrorValue
	FetchFailureReason *snapshot.ErrorValue
	FetchMeta          map[string]any
	FetchStatus        string
	IsInvalidated      bool
	Status             string
}

// MutationDigest holds the fields of a mutation whose change warrants a push.
type MutationDigest struct {
	MutationID   int
	Status       string
	IsPaused     bool
	FailureCount int
}

type digest struct {
	Online    bool
	Queries   []QueryDigest
	Mutations []MutationDigest
}

// Comparator remembers the last accepted snapshot digest and reports
// whether a new snapshot differs from it. It is safe for concurrent use.
type Comparator struct {
	mu     sync.Mutex
	last   digest
	seeded bool
}

// NewComparator creates an empty comparator. The first snapshot it sees is
// always a change.
func NewComparator() *Comparator {
	return &Comparator{}
}

// Changed compares msg with the last accepted message. When they differ,
// msg becomes the new baseline.
func (c *Comparator) Changed(msg snapshot.SyncMessage) bool {
	next := digestOf(msg)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.seeded && cmp.Equal(c.last, next, cmpopts.EquateEmpty()) {
		return false
	}
	c.last = next
	c.seeded = true
	return true
}

// Seed sets the baseline without comparing.
func (c *Comparator) Seed(msg snapshot.SyncMessage) {
	next := digestOf(msg)
	c.mu.Lock()
	c.last = next
	c.seeded = true
	c.mu.Unlock()
}

// Reset forgets the baseline.
func (c *Comparator) Reset() {
	c.mu.Lock()
	c.last = digest{}
	c.seeded = false
	c.mu.Unlock()
}

func digestOf(msg snapshot.SyncMessage) digest {
	s := msg.State
	d := digest{
		Online:    msg.IsOnlineManagerOnline,
		Queries:   make([]QueryDigest, 0, len(s.Queries)),
		Mutations: make([]MutationDigest, 0, len(s.Mutations)),
	}
	for _, q := range s.Queries {
		d.Queries = append(d.Queries, QueryDigest{
			QueryHash:          q.QueryHash,
			Data:               normalize(q.State.Data),
			Error:              q.State.Error,
			FetchFailureReason: q.State.FetchFailureReason,
			FetchMeta:          normalizeMap(q.State.FetchMeta),
			FetchStatus:        q.State.FetchStatus,
			IsInvalidated:      q.State.IsInvalidated,
			Status:             q.State.Status,
		})
	}
	for _, m := range s.Mutations {
		d.Mutations = append(d.Mutations, MutationDigest{
			MutationID:   m.MutationID,
			Status:       m.State.Status,
			IsPaused:     m.State.IsPaused,
			FailureCount: m.State.FailureCount,
		})
	}
	return d
}

// normalize maps v onto plain JSON values so that equal data held in
// different Go types compares equal.
func normalize(v any) any {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

func normalizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	if out, ok := normalize(m).(map[string]any); ok {
		return out
	}
	return m
}
