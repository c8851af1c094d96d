package gitbind

import (
	"sync"
	"weak"
)

// writers tracks which open Index holds the write lease for each persisted
// index, enforcing a single in-process writer per index file. Holders are
// weak: an Index that is garbage collected without Close loses its lease.
var writers = struct {
	mu   sync.Mutex
	held map[string]weak.Pointer[Index]
}{held: make(map[string]weak.Pointer[Index])}

// acquireLease grants the write lease for key to owner. It returns false if
// another live Index holds it.
func acquireLease(key string, owner *Index) bool {
	writers.mu.Lock()
	defer writers.mu.Unlock()
	wp := weak.Make(owner)
	if cur, ok := writers.held[key]; ok && cur != wp && cur.Value() != nil {
		return false
	}
	writers.held[key] = wp
	return true
}

// releaseLease drops owner's lease for key, if it holds it.
func releaseLease(key string, owner *Index) {
	writers.mu.Lock()
	defer writers.mu.Unlock()
	if writers.held[key] == weak.Make(owner) {
		delete(writers.held, key)
	}
}
