package server

import "sync"

// ClientRegistry counts open connections per remote IP. It is used for
// logging only.
type ClientRegistry struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{counts: make(map[string]int)}
}

// Add records a new connection from ip and returns the number now open.
func (r *ClientRegistry) Add(ip string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[ip]++
	return r.counts[ip]
}

// Remove records a closed connection from ip and returns the number still
// open. The entry is dropped when it reaches zero.
func (r *ClientRegistry) Remove(ip string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.counts[ip]
	if !ok {
		return 0
	}
	n--
	if n <= 0 {
		delete(r.counts, ip)
		return 0
	}
	r.counts[ip] = n
	return n
}

// Snapshot returns a copy of the current counts.
func (r *ClientRegistry) Snapshot() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.counts))
	for ip, n := range r.counts {
		out[ip] = n
	}
	return out
}

func (r *ClientRegistry) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, n := range r.counts {
		total += n
	}
	return total
}
