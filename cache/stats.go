package cache

// Stats is a point-in-time view of a Store.
type Stats struct {
	TotalItems         int     `json:"total_items"`
	CurrentSize        int64   `json:"current_size"`
	MaxSize            int64   `json:"max_size"`
	MaxEntries         int     `json:"max_entries"`
	ExpiredItems       int     `json:"expired_items"`
	TotalAccess        int64   `json:"total_access"`
	MemoryUsagePercent float64 `json:"memory_usage_percent"`
	Hits               int64   `json:"hits"`
	Misses             int64   `json:"misses"`
	Evictions          int64   `json:"evictions"`
	HitRate            float64 `json:"hit_rate"`
}

// Stats reports the store's counters. It never mutates the store: expired
// entries not yet swept are counted in TotalItems and ExpiredItems.
//
// HitRate is hits / (hits + misses) over the store's lifetime, where a hit is
// a Get that returned a value, including read-through hits.
func (s *Store[T]) Stats() Stats {
	s.mu.Lock()
	now := s.clock.Now()
	st := Stats{
		TotalItems:  len(s.entries),
		CurrentSize: s.currentSize,
		MaxSize:     s.cfg.MaxSizeBytes,
		MaxEntries:  s.cfg.MaxEntries,
	}
	for _, e := range s.entries {
		if e.Expired(now) {
			st.ExpiredItems++
		}
		st.TotalAccess += e.AccessCount
	}
	s.mu.Unlock()

	st.MemoryUsagePercent = float64(st.CurrentSize) / float64(st.MaxSize) * 100
	st.Hits = s.hits.Load()
	st.Misses = s.misses.Load()
	st.Evictions = s.evictions.Load()
	if total := st.Hits + st.Misses; total > 0 {
		st.HitRate = float64(st.Hits) / float64(total)
	}
	return st
}

// LiveItems returns the number of unexpired entries.
func (st Stats) LiveItems() int {
	return st.TotalItems - st.ExpiredItems
}
