package filament

import (
	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// Epoch identifies a point in command-submission order. Epochs increase by
// one per submission, starting at 1; epoch 0 means "nothing submitted yet".
// A resource is safe to destroy once the epoch of its last referencing
// submission has retired on the device.
type Epoch uint64

// submitToken identifies one in-flight submission inside a queueBacking.
type submitToken uint64

// queueBacking abstracts the queue submission and fence machinery so the
// stream's epoch bookkeeping is testable without a device. The production
// backing recycles fences the way the original fence manager did.
type queueBacking interface {
	// submit hands cmd to the queue and returns a token whose completion
	// can be polled. A nil cmd is a fence-only submission.
	submit(cmd vk.CommandBuffer) (submitToken, error)
	// signaled polls completion without blocking.
	signaled(t submitToken) (bool, error)
	// wait blocks until the submission completes.
	wait(t submitToken) error
	// release recycles the token's fence after retirement was observed.
	release(t submitToken)
	// waitIdle blocks until the queue drains.
	waitIdle() error
	// destroy frees the backing's fences.
	destroy()
}

// vkQueueBacking implements queueBacking on a Vulkan queue. Fences are
// created on demand and recycled by token.
type vkQueueBacking struct {
	device vk.Device
	queue  vk.Queue

	fences   map[submitToken]vk.Fence
	recycled []vk.Fence
	next     submitToken
}

func newVkQueueBacking(device vk.Device, queue vk.Queue) *vkQueueBacking {
	return &vkQueueBacking{
		device: device,
		queue:  queue,
		fences: make(map[submitToken]vk.Fence),
	}
}

func (b *vkQueueBacking) submit(cmd vk.CommandBuffer) (submitToken, error) {
	var fence vk.Fence
	if n := len(b.recycled); n > 0 {
		fence = b.recycled[n-1]
		b.recycled = b.recycled[:n-1]
		ret := vk.ResetFences(b.device, 1, []vk.Fence{fence})
		if err := NewError(ret); err != nil {
			return 0, err
		}
	} else {
		ret := vk.CreateFence(b.device, &vk.FenceCreateInfo{
			SType: vk.StructureTypeFenceCreateInfo,
		}, nil, &fence)
		if err := NewError(ret); err != nil {
			return 0, err
		}
	}

	ret := vk.QueueSubmit(b.queue, 1, []vk.SubmitInfo{buildSubmitInfo(cmd)}, fence)
	if err := NewError(ret); err != nil {
		b.recycled = append(b.recycled, fence)
		return 0, err
	}

	b.next++
	b.fences[b.next] = fence
	return b.next, nil
}

// buildSubmitInfo assembles the submission descriptor. A nil cmd yields a
// fence-only submission with no command buffers attached.
func buildSubmitInfo(cmd vk.CommandBuffer) vk.SubmitInfo {
	info := vk.SubmitInfo{
		SType: vk.StructureTypeSubmitInfo,
	}
	if cmd != nil {
		info.CommandBufferCount = 1
		info.PCommandBuffers = []vk.CommandBuffer{cmd}
	}
	return info
}

func (b *vkQueueBacking) signaled(t submitToken) (bool, error) {
	fence, ok := b.fences[t]
	if !ok {
		return true, nil
	}
	ret := vk.GetFenceStatus(b.device, fence)
	switch ret {
	case vk.Success:
		return true, nil
	case vk.NotReady:
		return false, nil
	default:
		return false, NewError(ret)
	}
}

func (b *vkQueueBacking) wait(t submitToken) error {
	fence, ok := b.fences[t]
	if !ok {
		return nil
	}
	ret := vk.WaitForFences(b.device, 1, []vk.Fence{fence}, vk.True, vk.MaxUint64)
	return NewError(ret)
}

func (b *vkQueueBacking) release(t submitToken) {
	if fence, ok := b.fences[t]; ok {
		delete(b.fences, t)
		b.recycled = append(b.recycled, fence)
	}
}

func (b *vkQueueBacking) waitIdle() error {
	return NewError(vk.QueueWaitIdle(b.queue))
}

func (b *vkQueueBacking) destroy() {
	for t, fence := range b.fences {
		vk.DestroyFence(b.device, fence, nil)
		delete(b.fences, t)
	}
	for _, fence := range b.recycled {
		vk.DestroyFence(b.device, fence, nil)
	}
	b.recycled = nil
}

// commandSource hands out command buffers ready for recording. The
// production source is the pool-backed recycler; tests substitute a fake
// that never touches a device.
type commandSource interface {
	// begin returns a command buffer in the recording state.
	begin() (vk.CommandBuffer, error)
	// reset marks every handed-out buffer recyclable. Callers must know
	// none of them is still being recorded or in flight.
	reset()
	destroy()
}

// commandRecycler allocates primary command buffers from one pool and hands
// them out again after the enqueuing submissions retire.
type commandRecycler struct {
	device  vk.Device
	pool    vk.CommandPool
	buffers []vk.CommandBuffer
	inUse   int
}

func newCommandRecycler(device vk.Device, queueFamilyIndex uint32) (*commandRecycler, error) {
	var pool vk.CommandPool
	ret := vk.CreateCommandPool(device, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: queueFamilyIndex,
		// Individual command buffers must be resettable for recycling.
		Flags: vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}, nil, &pool)
	if err := NewError(ret); err != nil {
		return nil, err
	}
	return &commandRecycler{device: device, pool: pool}, nil
}

// take returns a fresh or recycled command buffer in the reset state.
func (c *commandRecycler) take() (vk.CommandBuffer, error) {
	if c.inUse < len(c.buffers) {
		buf := c.buffers[c.inUse]
		ret := vk.ResetCommandBuffer(buf,
			vk.CommandBufferResetFlags(vk.CommandBufferResetReleaseResourcesBit))
		if err := NewError(ret); err != nil {
			return nil, err
		}
		c.inUse++
		return buf, nil
	}
	c.buffers = append(c.buffers, nil)
	ret := vk.AllocateCommandBuffers(c.device, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        c.pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}, c.buffers[c.inUse:])
	if err := NewError(ret); err != nil {
		c.buffers = c.buffers[:c.inUse]
		return nil, err
	}
	buf := c.buffers[c.inUse]
	c.inUse++
	return buf, nil
}

// begin takes a buffer and puts it in the recording state.
func (c *commandRecycler) begin() (vk.CommandBuffer, error) {
	cmd, err := c.take()
	if err != nil {
		return nil, err
	}
	ret := vk.BeginCommandBuffer(cmd, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	})
	if err := NewError(ret); err != nil {
		return nil, err
	}
	return cmd, nil
}

// reset marks every handed-out buffer recyclable. Callers must know the
// enqueuing submissions have retired.
func (c *commandRecycler) reset() {
	c.inUse = 0
}

func (c *commandRecycler) destroy() {
	if len(c.buffers) > 0 {
		vk.FreeCommandBuffers(c.device, c.pool, uint32(len(c.buffers)), c.buffers)
	}
	vk.DestroyCommandPool(c.device, c.pool, nil)
	c.buffers = nil
}

type submission struct {
	epoch Epoch
	token submitToken
}

// CommandStream records and submits command buffers on the single graphics
// queue, stamping each submission with an Epoch. Submissions retire on the
// device in submission order, so retirement is tracked by polling the oldest
// in-flight fence first.
//
// The stream is used from the single recording thread only.
type CommandStream struct {
	backing queueBacking
	source  commandSource

	next      Epoch // epoch the next submission will receive
	retired   Epoch // highest epoch known to have completed on the device
	recording int   // buffers handed out by Begin but not yet submitted
	inFlight  []submission
}

// NewCommandStream creates a stream over the device's graphics queue.
func NewCommandStream(dev *DeviceContext) (*CommandStream, error) {
	recycler, err := newCommandRecycler(dev.Device(), dev.QueueFamilyIndex())
	if err != nil {
		return nil, err
	}
	s := newCommandStream(newVkQueueBacking(dev.Device(), dev.Queue()))
	s.source = recycler
	return s, nil
}

func newCommandStream(backing queueBacking) *CommandStream {
	return &CommandStream{
		backing: backing,
		next:    1,
	}
}

// CurrentEpoch returns the epoch that the submission currently being
// recorded will receive. Resources referenced by in-progress recording must
// be kept alive until this epoch retires.
func (s *CommandStream) CurrentEpoch() Epoch { return s.next }

// RetiredEpoch returns the highest epoch known to have completed on the device.
func (s *CommandStream) RetiredEpoch() Epoch { return s.retired }

// Begin returns a primary command buffer in the recording state. The buffer
// must be submitted through Submit in the same frame it was obtained; the
// stream counts it as outstanding until then.
func (s *CommandStream) Begin() (vk.CommandBuffer, error) {
	if s.source == nil {
		return nil, errors.New("vulkan: command stream has no command pool")
	}
	cmd, err := s.source.begin()
	if err != nil {
		return nil, err
	}
	s.recording++
	return cmd, nil
}

// Submit ends recording if needed and hands cmd to the queue, returning the
// epoch stamped on the submission.
func (s *CommandStream) Submit(cmd vk.CommandBuffer) (Epoch, error) {
	if cmd != nil {
		if err := NewError(vk.EndCommandBuffer(cmd)); err != nil {
			return 0, err
		}
	}
	token, err := s.backing.submit(cmd)
	if err != nil {
		return 0, err
	}
	if s.recording > 0 {
		s.recording--
	}
	epoch := s.next
	s.next++
	s.inFlight = append(s.inFlight, submission{epoch: epoch, token: token})
	return epoch, nil
}

// Poll advances the retired epoch over every in-flight submission whose
// fence has signaled. Submissions retire in order, so polling stops at the
// first incomplete one.
func (s *CommandStream) Poll() (Epoch, error) {
	for len(s.inFlight) > 0 {
		oldest := s.inFlight[0]
		done, err := s.backing.signaled(oldest.token)
		if err != nil {
			return s.retired, err
		}
		if !done {
			break
		}
		s.backing.release(oldest.token)
		s.retired = oldest.epoch
		s.inFlight = s.inFlight[1:]
	}
	// Recycling requires that no buffer is mid-recording and that every
	// submitted one has retired.
	if len(s.inFlight) == 0 && s.recording == 0 && s.source != nil && s.retired+1 == s.next {
		s.source.reset()
	}
	return s.retired, nil
}

// WaitEpoch blocks the calling thread until the given epoch has retired on
// the device.
func (s *CommandStream) WaitEpoch(epoch Epoch) error {
	if epoch >= s.next {
		return errors.Newf("vulkan: epoch %d was never submitted", epoch)
	}
	for s.retired < epoch && len(s.inFlight) > 0 {
		oldest := s.inFlight[0]
		if err := s.backing.wait(oldest.token); err != nil {
			return err
		}
		s.backing.release(oldest.token)
		s.retired = oldest.epoch
		s.inFlight = s.inFlight[1:]
	}
	return nil
}

// WaitIdle blocks until the queue drains, then marks every submission
// retired.
func (s *CommandStream) WaitIdle() error {
	if err := s.backing.waitIdle(); err != nil {
		return err
	}
	for _, sub := range s.inFlight {
		s.backing.release(sub.token)
		s.retired = sub.epoch
	}
	s.inFlight = nil
	if s.source != nil && s.recording == 0 {
		s.source.reset()
	}
	return nil
}

// Destroy drains the queue and frees the command pool and fences.
func (s *CommandStream) Destroy() {
	if err := s.WaitIdle(); err != nil {
		slogger().Warn("vulkan: wait-idle during command stream teardown", "err", err)
	}
	if s.source != nil {
		s.source.destroy()
		s.source = nil
	}
	s.backing.destroy()
}
