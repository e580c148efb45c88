package transport

import (
	"sync"
	"time"
)

// MemoryNetwork is an in-process network of word queues keyed by address.
// It lets two parties run a handshake without sockets.
type MemoryNetwork struct {
	mu     sync.Mutex
	queues map[string][]uint32
}

// NewMemoryNetwork returns an empty network.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{queues: make(map[string][]uint32, 32)}
}

// Open returns an endpoint that receives words addressed to src and sends words
// to dst.
func (n *MemoryNetwork) Open(src, dst string) *Endpoint {
	return &Endpoint{src: src, dst: dst, net: n, sleep: time.Sleep}
}

// Endpoint is one side of a MemoryNetwork. Words are not masked.
type Endpoint struct {
	src   string
	dst   string
	net   *MemoryNetwork
	sleep func(time.Duration)
}

// SendWord queues w for the destination address.
func (p *Endpoint) SendWord(w uint32) error {
	p.net.mu.Lock()
	defer p.net.mu.Unlock()
	p.net.queues[p.dst] = append(p.net.queues[p.dst], w)
	return nil
}

// RecvWord dequeues the oldest word addressed to this endpoint, if any.
func (p *Endpoint) RecvWord() (uint32, bool, error) {
	p.net.mu.Lock()
	defer p.net.mu.Unlock()
	queue := p.net.queues[p.src]
	if len(queue) == 0 {
		return 0, false, nil
	}
	w := queue[0]
	p.net.queues[p.src] = queue[1:]
	return w, true, nil
}

// RecvWordTimeout receives one word following the RecvTimeout policy.
func (p *Endpoint) RecvWordTimeout(d time.Duration) (uint32, error) {
	return RecvTimeout(p.RecvWord, d, p.sleep)
}
