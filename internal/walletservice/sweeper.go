package walletservice

import (
	"time"
)

// sweepInterval is the longest gap between the background sweeper's
// checks for stranded pending entries; sweepLoop checks every
// s.staleness instead when that is shorter. Grounded on the teacher's
// internal/cache.Prune usage pattern and internal/session's TTL
// bookkeeping, adapted here from balance-cache eviction to
// pending-handle eviction per spec.md §5: "implementations may add a
// timeout-based sweeper."
const sweepInterval = 30 * time.Second

// sweepLoop periodically evicts pending open/delete/import entries
// older than s.staleness: a caller that dropped its phase-1 return
// value (crashed, never resumed) would otherwise strand that entry,
// and its reserved wallet id, forever.
func (s *Service) sweepLoop() {
	if s.staleness <= 0 {
		return
	}

	interval := sweepInterval
	if s.staleness < interval {
		interval = s.staleness
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopSweep:
			return
		case <-ticker.C:
			s.sweepStale()
		}
	}
}

func (s *Service) sweepStale() {
	cutoff := time.Now().Add(-s.staleness)

	s.mu.Lock()
	var stale []reservation
	var staleHandles []uint64
	for handle, r := range s.reservations {
		if r.createdAt.Before(cutoff) {
			stale = append(stale, r)
			staleHandles = append(staleHandles, handle)
		}
	}
	for i, handle := range staleHandles {
		delete(s.reservations, handle)
		delete(s.walletIDs, stale[i].effectiveID)
	}
	s.mu.Unlock()

	for i, handle := range staleHandles {
		switch stale[i].kind {
		case pendingOpenKind:
			if value, ok, _ := s.pendingOpen.Get(handle); ok {
				_ = value.(pendingOpenEntry).handle.Close()
			}
			s.pendingOpen.Delete(handle)
		case pendingDeleteKind:
			if value, ok, _ := s.pendingDelete.Get(handle); ok {
				_ = value.(pendingDeleteEntry).handle.Close()
			}
			s.pendingDelete.Delete(handle)
		case pendingImportKind:
			// ImportWalletPrepare no longer creates the destination
			// storage container itself (see import.go) — that happens
			// in Continue, once both Master Keys are known — so a
			// stranded phase-1 entry has nothing left to close or
			// delete beyond the pending-cache record itself.
			s.pendingImport.Delete(handle)
		}
	}
}
