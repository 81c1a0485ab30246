package cache

import "time"

// minIdleMinutes stands in for a zero idle time so recently touched entries
// score high instead of dividing by zero.
var minIdleMinutes = time.Millisecond.Minutes()

// Score ranks an entry for eviction: access count per idle minute. The
// lowest score is evicted first.
func Score(accessCount int64, lastAccessedAt, now time.Time) float64 {
	idle := now.Sub(lastAccessedAt).Minutes()
	if idle < minIdleMinutes {
		idle = minIdleMinutes
	}
	return float64(accessCount) / idle
}

// victimLocked picks the entry to evict. Ties on score go to the entry idle
// longest, then to the lexicographically smaller key, so the choice never
// depends on map iteration order. Caller holds s.mu.
func (s *Store[T]) victimLocked(now time.Time) (string, bool) {
	var (
		victim    string
		victimAt  time.Time
		bestScore float64
		found     bool
	)
	for key, e := range s.entries {
		score := Score(e.AccessCount, e.LastAccessedAt, now)
		if !found || lessVictim(score, e.LastAccessedAt, key, bestScore, victimAt, victim) {
			victim, victimAt, bestScore, found = key, e.LastAccessedAt, score, true
		}
	}
	return victim, found
}

func lessVictim(score float64, at time.Time, key string, bestScore float64, bestAt time.Time, bestKey string) bool {
	if score != bestScore {
		return score < bestScore
	}
	if !at.Equal(bestAt) {
		return at.Before(bestAt)
	}
	return key < bestKey
}

// fitsLocked reports whether an entry of size incoming fits both budgets.
func (s *Store[T]) fitsLocked(incoming int64) bool {
	return len(s.entries) < s.cfg.MaxEntries && s.currentSize+incoming <= s.cfg.MaxSizeBytes
}

// makeRoomLocked frees space for an entry of size incoming. Expired entries
// go first; live entries are then evicted lowest score first. Caller holds
// s.mu.
func (s *Store[T]) makeRoomLocked(now time.Time, incoming int64) (expired, evicted []string) {
	if s.fitsLocked(incoming) {
		return nil, nil
	}

	expired = s.sweepLocked(now)
	for !s.fitsLocked(incoming) {
		key, ok := s.victimLocked(now)
		if !ok {
			break
		}
		s.removeLocked(key)
		evicted = append(evicted, key)
	}
	return expired, evicted
}
