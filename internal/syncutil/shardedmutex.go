// Package syncutil provides small synchronization helpers.
package syncutil

import (
	"hash/fnv"
	"sync"
)

// ShardedMutex is a fixed pool of mutexes keyed by string. It serializes all
// work for a given key (concurrent steps for one card id must not interleave)
// while letting distinct keys proceed in parallel, with bounded memory no
// matter how many keys are seen. Keys that hash to the same shard contend
// with each other, which is acceptable false sharing for request-sized
// critical sections.
type ShardedMutex struct {
	shards [256]sync.Mutex
}

// Lock acquires the mutex for key and returns the matching unlock function.
//
//	unlock := locks.Lock(cardID)
//	defer unlock()
func (s *ShardedMutex) Lock(key string) func() {
	mu := s.shard(key)
	mu.Lock()
	return mu.Unlock
}

func (s *ShardedMutex) shard(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.shards[h.Sum32()%uint32(len(s.shards))]
}
