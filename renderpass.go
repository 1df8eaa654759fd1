package filament

import (
	"hash/fnv"

	vk "github.com/vulkan-go/vulkan"
)

// AttachmentDescription captures the per-attachment creation parameters that
// distinguish render pass objects.
type AttachmentDescription struct {
	Format  vk.Format
	LoadOp  vk.AttachmentLoadOp
	StoreOp vk.AttachmentStoreOp
}

// RenderPassParams is the full creation parameter set of a render pass and
// the structural cache key: two parameter sets that compare equal map to the
// same hardware object.
type RenderPassParams struct {
	ColorAttachments []AttachmentDescription
	DepthAttachment  AttachmentDescription
	HasDepth         bool
	Samples          vk.SampleCountFlagBits
	SubpassCount     int
}

func (p RenderPassParams) subpasses() int {
	if p.SubpassCount < 1 {
		return 1
	}
	return p.SubpassCount
}

// hash computes the structural FNV-1a hash used for cache bucketing.
func (p RenderPassParams) hash() uint64 {
	h := fnv.New64a()
	var buf [4]byte
	put := func(v uint32) {
		buf[0] = byte(v)
		buf[1] = byte(v >> 8)
		buf[2] = byte(v >> 16)
		buf[3] = byte(v >> 24)
		h.Write(buf[:])
	}
	put(uint32(len(p.ColorAttachments)))
	for _, a := range p.ColorAttachments {
		put(uint32(a.Format))
		put(uint32(a.LoadOp))
		put(uint32(a.StoreOp))
	}
	if p.HasDepth {
		put(1)
		put(uint32(p.DepthAttachment.Format))
		put(uint32(p.DepthAttachment.LoadOp))
		put(uint32(p.DepthAttachment.StoreOp))
	} else {
		put(0)
	}
	put(uint32(p.Samples))
	put(uint32(p.subpasses()))
	return h.Sum64()
}

// equal reports exact structural equality; hash buckets fall back to this so
// collisions can never alias two parameter sets.
func (p RenderPassParams) equal(q RenderPassParams) bool {
	if len(p.ColorAttachments) != len(q.ColorAttachments) ||
		p.HasDepth != q.HasDepth ||
		p.Samples != q.Samples ||
		p.subpasses() != q.subpasses() {
		return false
	}
	if p.HasDepth && p.DepthAttachment != q.DepthAttachment {
		return false
	}
	for i := range p.ColorAttachments {
		if p.ColorAttachments[i] != q.ColorAttachments[i] {
			return false
		}
	}
	return true
}

// RenderPass is a cached hardware render pass plus its creation parameters
// and the index of the currently active subpass. Subpass state is mutable
// and scoped to one pass instance; recording resets it with Begin.
type RenderPass struct {
	Handle vk.RenderPass
	Params RenderPassParams

	currentSubpass int
}

// Begin resets the active subpass to the first one.
func (p *RenderPass) Begin() { p.currentSubpass = 0 }

// CurrentSubpass returns the index of the active subpass.
func (p *RenderPass) CurrentSubpass() int { return p.currentSubpass }

// NextSubpass advances to the next declared subpass.
func (p *RenderPass) NextSubpass() error {
	if p.currentSubpass+1 >= p.Params.subpasses() {
		return ErrSubpassOverflow
	}
	p.currentSubpass++
	return nil
}

// renderPassFactory builds the hardware object on a cache miss. The
// production factory issues vk.CreateRenderPass; tests count invocations.
type renderPassFactory func(params RenderPassParams) (vk.RenderPass, error)

// RenderPassCache hands out one render pass object per distinct parameter
// set. The cache is unbounded; in practice it is bounded by the finite
// attachment configurations an application uses, so nothing is ever evicted.
//
// The cache is accessed only from the recording thread and takes no locks.
type RenderPassCache struct {
	device vk.Device
	create renderPassFactory

	passes map[uint64][]*RenderPass
	hits   uint64
	misses uint64
}

// NewRenderPassCache returns a cache creating passes on the given device.
func NewRenderPassCache(device vk.Device) *RenderPassCache {
	c := newRenderPassCache(func(params RenderPassParams) (vk.RenderPass, error) {
		return createRenderPass(device, params)
	})
	c.device = device
	return c
}

func newRenderPassCache(create renderPassFactory) *RenderPassCache {
	return &RenderPassCache{
		create: create,
		passes: make(map[uint64][]*RenderPass),
	}
}

// Acquire returns the cached render pass for params, creating and inserting
// it on first use. Calls with structurally equal parameters return the same
// object.
func (c *RenderPassCache) Acquire(params RenderPassParams) (*RenderPass, error) {
	key := params.hash()
	for _, pass := range c.passes[key] {
		if pass.Params.equal(params) {
			c.hits++
			return pass, nil
		}
	}

	handle, err := c.create(params)
	if err != nil {
		return nil, err
	}
	pass := &RenderPass{
		Handle: handle,
		Params: cloneParams(params),
	}
	c.passes[key] = append(c.passes[key], pass)
	c.misses++
	slogger().Debug("vulkan: render pass created",
		"colorAttachments", len(params.ColorAttachments),
		"hasDepth", params.HasDepth,
		"subpasses", params.subpasses())
	return pass, nil
}

// cloneParams copies the attachment slice so later caller mutation cannot
// corrupt the cache key.
func cloneParams(params RenderPassParams) RenderPassParams {
	out := params
	out.ColorAttachments = append([]AttachmentDescription(nil), params.ColorAttachments...)
	return out
}

// Size returns the number of cached render passes.
func (c *RenderPassCache) Size() int {
	n := 0
	for _, bucket := range c.passes {
		n += len(bucket)
	}
	return n
}

// Stats returns hit and miss counts.
func (c *RenderPassCache) Stats() (hits, misses uint64) {
	return c.hits, c.misses
}

// Destroy releases every cached hardware object.
func (c *RenderPassCache) Destroy() {
	for key, bucket := range c.passes {
		for _, pass := range bucket {
			if c.device != nil && pass.Handle != vk.NullRenderPass {
				vk.DestroyRenderPass(c.device, pass.Handle, nil)
			}
		}
		delete(c.passes, key)
	}
}

// createRenderPass assembles the Vulkan creation structures from params.
// Every subpass binds all color attachments and the depth attachment when
// present.
func createRenderPass(device vk.Device, params RenderPassParams) (vk.RenderPass, error) {
	samples := params.Samples
	if samples == 0 {
		samples = vk.SampleCount1Bit
	}

	var descriptions []vk.AttachmentDescription
	var colorRefs []vk.AttachmentReference
	for _, a := range params.ColorAttachments {
		colorRefs = append(colorRefs, vk.AttachmentReference{
			Attachment: uint32(len(descriptions)),
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		})
		descriptions = append(descriptions, vk.AttachmentDescription{
			Format:         a.Format,
			Samples:        samples,
			LoadOp:         a.LoadOp,
			StoreOp:        a.StoreOp,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutColorAttachmentOptimal,
		})
	}
	var depthRef *vk.AttachmentReference
	if params.HasDepth {
		depthRef = &vk.AttachmentReference{
			Attachment: uint32(len(descriptions)),
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
		descriptions = append(descriptions, vk.AttachmentDescription{
			Format:         params.DepthAttachment.Format,
			Samples:        samples,
			LoadOp:         params.DepthAttachment.LoadOp,
			StoreOp:        params.DepthAttachment.StoreOp,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		})
	}

	subpasses := make([]vk.SubpassDescription, params.subpasses())
	for i := range subpasses {
		subpasses[i] = vk.SubpassDescription{
			PipelineBindPoint:       vk.PipelineBindPointGraphics,
			ColorAttachmentCount:    uint32(len(colorRefs)),
			PColorAttachments:       colorRefs,
			PDepthStencilAttachment: depthRef,
		}
	}

	// Serialize color writes between consecutive subpasses.
	var dependencies []vk.SubpassDependency
	for i := 1; i < len(subpasses); i++ {
		dependencies = append(dependencies, vk.SubpassDependency{
			SrcSubpass:      uint32(i - 1),
			DstSubpass:      uint32(i),
			SrcStageMask:    vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			DstStageMask:    vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			SrcAccessMask:   vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
			DstAccessMask:   vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit),
			DependencyFlags: vk.DependencyFlags(vk.DependencyByRegionBit),
		})
	}

	var pass vk.RenderPass
	ret := vk.CreateRenderPass(device, &vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(descriptions)),
		PAttachments:    descriptions,
		SubpassCount:    uint32(len(subpasses)),
		PSubpasses:      subpasses,
		DependencyCount: uint32(len(dependencies)),
		PDependencies:   dependencies,
	}, nil, &pass)
	if err := NewError(ret); err != nil {
		return vk.NullRenderPass, err
	}
	return pass, nil
}
