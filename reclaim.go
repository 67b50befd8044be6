package sufdex

import "sync"

// ═══════════════════════════════════════════════════════════════════════════════
// DEFERRED NODE REMOVAL
// ═══════════════════════════════════════════════════════════════════════════════
// Unlinking a record's keys does not stop operations that are already walking
// them: a query that passed a node a moment earlier may still follow its Next
// link. Unlinked nodes are therefore retired, not removed, and a retired batch
// is handed back for removal only once every operation that was running when
// it was retired has finished.
//
//	epoch 0: query A enters
//	epoch 0: delete unlinks row 1, retires its nodes as batch@0, epoch -> 1
//	epoch 1: query B enters          (cannot reach row 1 anymore)
//	         query A exits           -> batch@0 is removable
//
// This covers operations of one SuffixArray. Separate processes sharing a
// remote store do not see each other's epochs.
// ═══════════════════════════════════════════════════════════════════════════════

type retiredBatch struct {
	epoch uint64
	ids   []NodeID
}

type reclaimer struct {
	mu      sync.Mutex
	epoch   uint64
	active  map[uint64]int
	pending []retiredBatch
}

func newReclaimer() *reclaimer {
	return &reclaimer{active: make(map[uint64]int)}
}

// enter registers a running operation and returns its epoch.
func (r *reclaimer) enter() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.active[r.epoch]++
	return r.epoch
}

func (r *reclaimer) exit(epoch uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active[epoch]--; r.active[epoch] <= 0 {
		delete(r.active, epoch)
	}
}

// retire queues ids that were just unlinked.
func (r *reclaimer) retire(ids []NodeID) {
	if len(ids) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending = append(r.pending, retiredBatch{epoch: r.epoch, ids: ids})
	r.epoch++
}

// ready pops the retired ids no running operation can still reach.
func (r *reclaimer) ready() []NodeID {
	r.mu.Lock()
	defer r.mu.Unlock()

	oldest := r.epoch
	for epoch := range r.active {
		oldest = min(oldest, epoch)
	}

	var ids []NodeID
	n := 0
	for _, batch := range r.pending {
		if batch.epoch >= oldest {
			break
		}
		ids = append(ids, batch.ids...)
		n++
	}
	r.pending = r.pending[n:]
	return ids
}

// backlog returns the number of retired ids still waiting.
func (r *reclaimer) backlog() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := 0
	for _, batch := range r.pending {
		total += len(batch.ids)
	}
	return total
}
