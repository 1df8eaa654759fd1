package filament

import (
	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// DefaultBlockSize is the granularity at which device memory is requested
// from the driver. Sub-allocations are carved out of these blocks so that
// the expensive device allocation is amortized over many resources.
const DefaultBlockSize vk.DeviceSize = 16 * 1024 * 1024

// MemoryPool identifies one of the allocator's two pools.
type MemoryPool int

const (
	// PoolGPU is the device-local pool backing textures and static buffers.
	PoolGPU MemoryPool = iota
	// PoolCPU is the host-visible pool backing staging and uniform data.
	PoolCPU

	poolCount
)

// String returns the pool name.
func (p MemoryPool) String() string {
	switch p {
	case PoolGPU:
		return "gpu"
	case PoolCPU:
		return "cpu"
	default:
		return "unknown"
	}
}

// blockBacking abstracts raw device memory blocks. The production backing
// calls vk.AllocateMemory/vk.FreeMemory on the logical device; tests use an
// in-memory fake.
type blockBacking interface {
	allocBlock(size vk.DeviceSize, memoryTypeIndex uint32) (vk.DeviceMemory, error)
	freeBlock(memory vk.DeviceMemory)
}

type vkBlockBacking struct {
	device vk.Device
}

func (b vkBlockBacking) allocBlock(size vk.DeviceSize, memoryTypeIndex uint32) (vk.DeviceMemory, error) {
	var memory vk.DeviceMemory
	ret := vk.AllocateMemory(b.device, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  size,
		MemoryTypeIndex: memoryTypeIndex,
	}, nil, &memory)
	if isError(ret) {
		return nil, errors.Mark(NewError(ret), ErrOutOfDeviceMemory)
	}
	return memory, nil
}

func (b vkBlockBacking) freeBlock(memory vk.DeviceMemory) {
	vk.FreeMemory(b.device, memory, nil)
}

// span is a free range inside a block, sorted by offset and coalesced.
type span struct {
	offset vk.DeviceSize
	size   vk.DeviceSize
}

type memoryBlock struct {
	memory vk.DeviceMemory
	size   vk.DeviceSize
	free   []span
	live   int
}

// Allocation is a sub-allocation of a device memory block. The Memory and
// Offset pair is what gets bound to buffers and images.
type Allocation struct {
	Memory vk.DeviceMemory
	Offset vk.DeviceSize
	Size   vk.DeviceSize

	pool  MemoryPool
	block *memoryBlock
}

// AllocatorStats is a snapshot of pool usage.
type AllocatorStats struct {
	BlockCount     int
	UsedBytes      vk.DeviceSize
	ReservedBytes  vk.DeviceSize
	LiveAllocCount int
}

type poolState struct {
	memoryTypeIndex uint32
	blocks          []*memoryBlock
	usedBytes       vk.DeviceSize
	liveAllocs      int
}

// MemoryAllocator partitions device memory into a device-local pool and a
// host-visible pool, each sub-allocating fixed-size blocks with a first-fit
// free list. Freed ranges return to their block for reuse; a block is handed
// back to the device only once it holds no live allocations.
//
// The allocator is accessed only from the recording thread and takes no
// locks.
type MemoryAllocator struct {
	backing   blockBacking
	blockSize vk.DeviceSize
	pools     [poolCount]poolState
}

// NewMemoryAllocator selects memory types for both pools and returns an
// allocator backed by the logical device. A blockSize of zero selects
// DefaultBlockSize.
func NewMemoryAllocator(dev *DeviceContext, blockSize vk.DeviceSize) (*MemoryAllocator, error) {
	props := dev.MemoryProperties()
	allTypes := uint32(1)<<props.MemoryTypeCount - 1

	gpuType, err := selectMemoryType(props,
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit), allTypes)
	if err != nil {
		return nil, err
	}
	cpuType, err := selectMemoryType(props,
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit), allTypes)
	if err != nil {
		return nil, err
	}

	a := newMemoryAllocator(vkBlockBacking{device: dev.Device()}, blockSize)
	a.pools[PoolGPU].memoryTypeIndex = gpuType
	a.pools[PoolCPU].memoryTypeIndex = cpuType
	return a, nil
}

func newMemoryAllocator(backing blockBacking, blockSize vk.DeviceSize) *MemoryAllocator {
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	return &MemoryAllocator{
		backing:   backing,
		blockSize: blockSize,
	}
}

// Allocate carves a sub-allocation of at least size bytes, aligned to
// alignment, out of the requested pool. An alignment of zero means no
// alignment requirement. On ErrOutOfDeviceMemory the caller may free unused
// allocations and retry once.
func (a *MemoryAllocator) Allocate(size, alignment vk.DeviceSize, pool MemoryPool) (*Allocation, error) {
	if size == 0 {
		return nil, errors.New("vulkan: zero-size allocation")
	}
	if alignment == 0 {
		alignment = 1
	}
	ps := &a.pools[pool]

	for _, block := range ps.blocks {
		if alloc := carve(block, size, alignment); alloc != nil {
			alloc.pool = pool
			ps.usedBytes += alloc.Size
			ps.liveAllocs++
			return alloc, nil
		}
	}

	// No block can hold it; request a fresh one. Oversized requests get a
	// dedicated block.
	blockSize := a.blockSize
	if size > blockSize {
		blockSize = size
	}
	memory, err := a.backing.allocBlock(blockSize, ps.memoryTypeIndex)
	if err != nil {
		return nil, errors.Wrapf(err, "pool %s", pool)
	}
	block := &memoryBlock{
		memory: memory,
		size:   blockSize,
		free:   []span{{offset: 0, size: blockSize}},
	}
	ps.blocks = append(ps.blocks, block)
	slogger().Debug("vulkan: device memory block allocated",
		"pool", pool.String(), "bytes", uint64(blockSize))

	alloc := carve(block, size, alignment)
	if alloc == nil {
		// A fresh block always fits the request that sized it.
		panic("filament: fresh block failed to satisfy allocation")
	}
	alloc.pool = pool
	ps.usedBytes += alloc.Size
	ps.liveAllocs++
	return alloc, nil
}

// carve takes the first free span that can hold size bytes at the requested
// alignment. Alignment padding stays on the free list.
func carve(block *memoryBlock, size, alignment vk.DeviceSize) *Allocation {
	for i, s := range block.free {
		start := alignUp(s.offset, alignment)
		pad := start - s.offset
		if s.size < pad+size {
			continue
		}
		// Shrink or split the span around [start, start+size).
		tail := span{offset: start + size, size: s.size - pad - size}
		switch {
		case pad == 0 && tail.size == 0:
			block.free = append(block.free[:i], block.free[i+1:]...)
		case pad == 0:
			block.free[i] = tail
		case tail.size == 0:
			block.free[i] = span{offset: s.offset, size: pad}
		default:
			block.free[i] = span{offset: s.offset, size: pad}
			block.free = append(block.free, span{})
			copy(block.free[i+2:], block.free[i+1:])
			block.free[i+1] = tail
		}
		block.live++
		return &Allocation{
			Memory: block.memory,
			Offset: start,
			Size:   size,
			block:  block,
		}
	}
	return nil
}

// Free returns a sub-allocation to its block. Memory is never handed back to
// the device individually; the owning block is released only when it becomes
// empty.
func (a *MemoryAllocator) Free(alloc *Allocation) {
	if alloc == nil || alloc.block == nil {
		return
	}
	block := alloc.block
	ps := &a.pools[alloc.pool]

	insertSpan(block, span{offset: alloc.Offset, size: alloc.Size})
	block.live--
	ps.usedBytes -= alloc.Size
	ps.liveAllocs--
	alloc.block = nil

	if block.live == 0 {
		for i, b := range ps.blocks {
			if b == block {
				ps.blocks = append(ps.blocks[:i], ps.blocks[i+1:]...)
				break
			}
		}
		a.backing.freeBlock(block.memory)
		slogger().Debug("vulkan: empty device memory block released",
			"pool", alloc.pool.String(), "bytes", uint64(block.size))
	}
}

// insertSpan puts s back on the block's free list, keeping it sorted by
// offset and coalescing with adjacent spans.
func insertSpan(block *memoryBlock, s span) {
	i := 0
	for i < len(block.free) && block.free[i].offset < s.offset {
		i++
	}
	block.free = append(block.free, span{})
	copy(block.free[i+1:], block.free[i:])
	block.free[i] = s

	// Coalesce with the successor, then the predecessor.
	if i+1 < len(block.free) && block.free[i].offset+block.free[i].size == block.free[i+1].offset {
		block.free[i].size += block.free[i+1].size
		block.free = append(block.free[:i+1], block.free[i+2:]...)
	}
	if i > 0 && block.free[i-1].offset+block.free[i-1].size == block.free[i].offset {
		block.free[i-1].size += block.free[i].size
		block.free = append(block.free[:i], block.free[i+1:]...)
	}
}

// Stats returns a usage snapshot for one pool.
func (a *MemoryAllocator) Stats(pool MemoryPool) AllocatorStats {
	ps := &a.pools[pool]
	var reserved vk.DeviceSize
	for _, b := range ps.blocks {
		reserved += b.size
	}
	return AllocatorStats{
		BlockCount:     len(ps.blocks),
		UsedBytes:      ps.usedBytes,
		ReservedBytes:  reserved,
		LiveAllocCount: ps.liveAllocs,
	}
}

// Destroy releases every block of both pools back to the device. All
// sub-allocations must have been freed or their resources routed through the
// disposer before the context tears the allocator down.
func (a *MemoryAllocator) Destroy() {
	for pool := range a.pools {
		ps := &a.pools[pool]
		if ps.liveAllocs > 0 {
			slogger().Warn("vulkan: destroying allocator with live allocations",
				"pool", MemoryPool(pool).String(), "live", ps.liveAllocs)
		}
		for _, block := range ps.blocks {
			a.backing.freeBlock(block.memory)
		}
		ps.blocks = nil
		ps.usedBytes = 0
		ps.liveAllocs = 0
	}
}

func alignUp(v, alignment vk.DeviceSize) vk.DeviceSize {
	return (v + alignment - 1) / alignment * alignment
}
