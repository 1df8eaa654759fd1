package filament

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// Buffer is a device buffer bound to a sub-allocation from the pooled
// allocator. GPU-pool buffers are device local; CPU-pool buffers are host
// visible and can be written through Upload.
type Buffer struct {
	handle vk.Buffer
	alloc  *Allocation
	size   vk.DeviceSize
	usage  vk.BufferUsageFlagBits
	pool   MemoryPool
}

// NewBuffer creates a buffer of the given size and usage, backed by memory
// from the pool.
func NewBuffer(device vk.Device, allocator *MemoryAllocator,
	size vk.DeviceSize, usage vk.BufferUsageFlagBits, pool MemoryPool) (*Buffer, error) {

	var handle vk.Buffer
	ret := vk.CreateBuffer(device, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        size,
		Usage:       vk.BufferUsageFlags(usage),
		SharingMode: vk.SharingModeExclusive,
	}, nil, &handle)
	if err := NewError(ret); err != nil {
		return nil, err
	}

	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(device, handle, &reqs)
	reqs.Deref()

	alloc, err := allocator.Allocate(reqs.Size, reqs.Alignment, pool)
	if err != nil {
		vk.DestroyBuffer(device, handle, nil)
		return nil, err
	}

	ret = vk.BindBufferMemory(device, handle, alloc.Memory, alloc.Offset)
	if err := NewError(ret); err != nil {
		allocator.Free(alloc)
		vk.DestroyBuffer(device, handle, nil)
		return nil, err
	}

	return &Buffer{
		handle: handle,
		alloc:  alloc,
		size:   size,
		usage:  usage,
		pool:   pool,
	}, nil
}

// Handle returns the buffer object for command recording.
func (b *Buffer) Handle() vk.Buffer { return b.handle }

// Size returns the buffer size in bytes.
func (b *Buffer) Size() vk.DeviceSize { return b.size }

// Pool returns the memory pool the buffer was allocated from.
func (b *Buffer) Pool() MemoryPool { return b.pool }

// Usage returns the usage flags the buffer was created with.
func (b *Buffer) Usage() vk.BufferUsageFlagBits { return b.usage }

// Upload copies data into the buffer at the given offset. The buffer must
// come from the CPU pool; GPU-pool memory is not host visible.
func (b *Buffer) Upload(device vk.Device, offset vk.DeviceSize, data []byte) error {
	if b.pool != PoolCPU {
		return errors.Newf("vulkan: upload into %s buffer", b.pool)
	}
	if offset+vk.DeviceSize(len(data)) > b.size {
		return errors.Newf("vulkan: upload of %d bytes at %d exceeds buffer size %d",
			len(data), offset, b.size)
	}
	var ptr unsafe.Pointer
	ret := vk.MapMemory(device, b.alloc.Memory, b.alloc.Offset+offset,
		vk.DeviceSize(len(data)), 0, &ptr)
	if err := NewError(ret); err != nil {
		return err
	}
	vk.Memcopy(ptr, data)
	vk.UnmapMemory(device, b.alloc.Memory)
	return nil
}

// Destroy releases the buffer object and returns its memory to the
// allocator. Callers route this through the disposer so in-flight command
// buffers finish first.
func (b *Buffer) Destroy(device vk.Device, allocator *MemoryAllocator) {
	if b.handle != vk.NullBuffer {
		vk.DestroyBuffer(device, b.handle, nil)
		b.handle = vk.NullBuffer
	}
	allocator.Free(b.alloc)
}
