package syncutil

import (
	"sync"
	"testing"
)

func TestShardedMutexSerializesSameKey(t *testing.T) {
	var locks ShardedMutex
	var counter int

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("card-001")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Errorf("counter = %d, want 100", counter)
	}
}

func TestShardedMutexDistinctKeysDoNotBlock(t *testing.T) {
	var locks ShardedMutex

	// Hold one key and verify another key (different shard) can still lock.
	unlockA := locks.Lock("card-001")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		// Find a key in a different shard than card-001.
		for i := 0; ; i++ {
			key := "probe-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
			if locks.shard(key) != locks.shard("card-001") {
				unlock := locks.Lock(key)
				unlock()
				close(done)
				return
			}
		}
	}()

	<-done
}
