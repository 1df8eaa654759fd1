package filament

import (
	"math/bits"
	"sync"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// TimestampQueryPool hands out slots in a fixed-capacity GPU timestamp
// query pool. Unlike the rest of the backend it is safe for concurrent use:
// profiling hooks on worker threads allocate and release slots while the
// recording thread writes queries.
type TimestampQueryPool struct {
	mu       sync.Mutex
	device   vk.Device
	pool     vk.QueryPool
	used     []uint64
	capacity uint32
	inUse    uint32
}

// NewTimestampQueryPool creates a pool with the given number of timestamp
// slots on the device.
func NewTimestampQueryPool(device vk.Device, capacity uint32) (*TimestampQueryPool, error) {
	var pool vk.QueryPool
	ret := vk.CreateQueryPool(device, &vk.QueryPoolCreateInfo{
		SType:      vk.StructureTypeQueryPoolCreateInfo,
		QueryType:  vk.QueryTypeTimestamp,
		QueryCount: capacity,
	}, nil, &pool)
	if err := NewError(ret); err != nil {
		return nil, err
	}
	p := newTimestampPool(capacity)
	p.device = device
	p.pool = pool
	return p, nil
}

func newTimestampPool(capacity uint32) *TimestampQueryPool {
	return &TimestampQueryPool{
		used:     make([]uint64, (capacity+63)/64),
		capacity: capacity,
	}
}

// AllocateSlot reserves a free slot and returns its index. It fails with
// ErrPoolExhausted exactly when all slots are in use.
func (p *TimestampQueryPool) AllocateSlot() (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inUse == p.capacity {
		return 0, errors.Wrapf(ErrPoolExhausted, "%d timestamp slots in use", p.capacity)
	}
	for word := range p.used {
		free := ^p.used[word]
		if free == 0 {
			continue
		}
		bit := uint32(bits.TrailingZeros64(free))
		slot := uint32(word)*64 + bit
		if slot >= p.capacity {
			break
		}
		p.used[word] |= 1 << bit
		p.inUse++
		return slot, nil
	}
	return 0, errors.Wrapf(ErrPoolExhausted, "%d timestamp slots in use", p.capacity)
}

// ReleaseSlot returns a slot to the pool. Releasing a slot that is not in
// use is a no-op.
func (p *TimestampQueryPool) ReleaseSlot(slot uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if slot >= p.capacity {
		return
	}
	word, bit := slot/64, slot%64
	if p.used[word]&(1<<bit) == 0 {
		return
	}
	p.used[word] &^= 1 << bit
	p.inUse--
}

// InUse returns the number of allocated slots.
func (p *TimestampQueryPool) InUse() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// Capacity returns the total number of slots.
func (p *TimestampQueryPool) Capacity() uint32 { return p.capacity }

// Handle returns the underlying query pool for command recording.
func (p *TimestampQueryPool) Handle() vk.QueryPool { return p.pool }

// Destroy releases the query pool.
func (p *TimestampQueryPool) Destroy() {
	if p.device != nil && p.pool != vk.NullQueryPool {
		vk.DestroyQueryPool(p.device, p.pool, nil)
		p.pool = vk.NullQueryPool
	}
}
