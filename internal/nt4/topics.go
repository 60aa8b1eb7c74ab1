package nt4

import (
	"math"
	"sync"
	"sync/atomic"

	"nt4client/internal/nt4/nt4err"
)

// maxIDProbeAttempts bounds how many in-use candidates next() will step
// past before giving up: proving every one of 2^31 ids is genuinely live
// would mean probing all of them, which is never a reasonable amount of
// work to do under a caller's lock. This many consecutive collisions means
// something is pathological (a leak, or a caller reusing ids) long before
// it means the id space is legitimately exhausted.
const maxIDProbeAttempts = 4096

// subCounter allocates subuids: previous + 1, wrapping to 1 on overflow;
// 0 is never allocated.
type subCounter struct{ v atomic.Int32 }

// next returns the next subuid not reported in use by inUse. It returns
// nt4err.ErrIDOverflow if maxIDProbeAttempts consecutive candidates are
// all reported in use.
func (c *subCounter) next(inUse func(int32) bool) (int32, error) {
	for attempt := 0; attempt < maxIDProbeAttempts; attempt++ {
		old := c.v.Load()
		candidate := int32(1)
		if old != math.MaxInt32 {
			candidate = old + 1
		}
		if !c.v.CompareAndSwap(old, candidate) {
			attempt--
			continue
		}
		if !inUse(candidate) {
			return candidate, nil
		}
	}
	return 0, nt4err.ErrIDOverflow
}

// topicCounter allocates pubuids with the same wrap-to-1 rule.
type topicCounter struct{ v atomic.Uint32 }

// next returns the next pubuid not reported in use by inUse. It returns
// nt4err.ErrIDOverflow if maxIDProbeAttempts consecutive candidates are
// all reported in use.
func (c *topicCounter) next(inUse func(uint32) bool) (uint32, error) {
	for attempt := 0; attempt < maxIDProbeAttempts; attempt++ {
		old := c.v.Load()
		candidate := uint32(1)
		if old != math.MaxUint32 {
			candidate = old + 1
		}
		if !c.v.CompareAndSwap(old, candidate) {
			attempt--
			continue
		}
		if !inUse(candidate) {
			return candidate, nil
		}
	}
	return 0, nt4err.ErrIDOverflow
}

// reservedTimeTopic is the fixed entry reinserted on every (re)open so the
// timekeeper can encode its probe through the ordinary value-publish path.
func reservedTimeTopic() Topic {
	pubuid := int32(-1)
	return Topic{
		ID:     reservedTimeTopicID,
		Name:   reservedTimeTopicName,
		Pubuid: &pubuid,
		Type:   TypeInt,
	}
}

// topicRegistry holds the two topic maps described in §4.4: server-
// announced topics keyed by id, and this client's own published topics
// keyed by pubuid. Both sit behind the same mutex since replay (§4.6)
// must observe a consistent snapshot of both at once.
type topicRegistry struct {
	mu        sync.Mutex
	announced map[int32]Topic
	published map[uint32]PublishedTopic
}

func newTopicRegistry() *topicRegistry {
	r := &topicRegistry{
		announced: make(map[int32]Topic),
		published: make(map[uint32]PublishedTopic),
	}
	r.announced[reservedTimeTopicID] = reservedTimeTopic()
	return r
}

// resetAnnounced clears the announced map and reinserts the reserved Time
// topic. Called at the start of on-open replay.
func (r *topicRegistry) resetAnnounced() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.announced = map[int32]Topic{reservedTimeTopicID: reservedTimeTopic()}
}

// announce inserts a new topic or updates an existing one's pubuid,
// per §4.4's announce rule. It returns the resulting Topic.
func (r *topicRegistry) announce(a serverAnnounce) Topic {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.announced[a.ID]
	if ok {
		if a.Pubuid != nil {
			existing.Pubuid = a.Pubuid
		}
		r.announced[a.ID] = existing
		return existing
	}

	t := Topic{
		ID:         a.ID,
		Name:       a.Name,
		Pubuid:     a.Pubuid,
		Type:       a.Type,
		Properties: a.Raw,
	}
	r.announced[a.ID] = t
	return t
}

// unannounce removes id from the announced map, returning the removed
// entry (if any) for the on_unannounce callback.
func (r *topicRegistry) unannounce(id int32) (Topic, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.announced[id]
	if ok {
		delete(r.announced, id)
	}
	return t, ok
}

// lookupAnnounced returns the announced topic with the given id.
func (r *topicRegistry) lookupAnnounced(id int32) (Topic, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.announced[id]
	return t, ok
}

// snapshotAnnounced returns a copy of the announced-topics map, for
// inspect_announced.
func (r *topicRegistry) snapshotAnnounced() map[int32]Topic {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int32]Topic, len(r.announced))
	for k, v := range r.announced {
		out[k] = v
	}
	return out
}

// isPublished reports whether pubuid already names a published topic.
func (r *topicRegistry) isPublished(pubuid uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.published[pubuid]
	return ok
}

// insertPublished records a newly published topic under its pubuid.
func (r *topicRegistry) insertPublished(t PublishedTopic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published[t.Pubuid] = t
}

// removePublished drops a published topic once its unpublish send has
// succeeded (§4.4: unpublish does not remove the record immediately).
func (r *topicRegistry) removePublished(pubuid uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.published, pubuid)
}

// publishedSnapshot returns a copy of the client-published topics, used to
// build the on-open replay batch.
func (r *topicRegistry) publishedSnapshot() []PublishedTopic {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PublishedTopic, 0, len(r.published))
	for _, t := range r.published {
		out = append(out, t)
	}
	return out
}
