package community

// WindowCount reports how many windows the limiter tracks
func (r *MemoryRateLimiter) WindowCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.windows)
}
