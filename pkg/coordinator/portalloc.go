package coordinator

import (
	"sync"

	"github.com/arzzra/voxcore/pkg/verrors"
)

// portAllocator is the global lock-guarded range allocator (a map of
// in-use ports) spec §4.7/§5 calls for: RTP ports are a shared resource pool, allocated and
// released under one mutex so concurrent calls never collide. Ports are
// allocated in pairs (RTP, RTCP = RTP+1), matching RFC 3550's even-port
// convention.
type portAllocator struct {
	mu       sync.Mutex
	min, max int
	inUse    map[int]bool
}

func newPortAllocator(min, max int) *portAllocator {
	if min%2 != 0 {
		min++ // keep the range even-aligned
	}
	return &portAllocator{min: min, max: max, inUse: make(map[int]bool)}
}

// Allocate reserves the next free even port in range, returning
// NoAvailablePort once the pool is exhausted.
func (p *portAllocator) Allocate() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for port := p.min; port+1 <= p.max; port += 2 {
		if !p.inUse[port] {
			p.inUse[port] = true
			return port, nil
		}
	}
	return 0, verrors.New(verrors.NoAvailablePort, "coordinator: RTP port range exhausted")
}

// Release returns port to the pool.
func (p *portAllocator) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inUse, port)
}
