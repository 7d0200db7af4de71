package correlate

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 64

// stripedLocks serializes read-modify-write updates per entity key without
// holding one global mutex across independent spans. Two keys may share a
// stripe; that only costs extra serialization, never a lost update.
type stripedLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (s *stripedLocks) lock(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key))
	mu := &s.stripes[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}
