package filament

import (
	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// ContextConfig configures backend bring-up.
type ContextConfig struct {
	// AppName is reported to the driver in the application info.
	AppName string

	// APIVersion selects the instance API version. Zero means Vulkan 1.0.
	APIVersion uint32

	// Instance, when set, is an externally owned instance the context
	// attaches to instead of creating its own.
	Instance vk.Instance

	// Surface restricts device selection to queue families that can
	// present to it. Null selects headless operation.
	Surface vk.Surface

	// EnableValidation requests the standard validation layer when it is
	// installed.
	EnableValidation bool

	// AllocatorBlockSize overrides the allocator's block size. Zero means
	// DefaultBlockSize.
	AllocatorBlockSize vk.DeviceSize

	// TimestampSlots sizes the timestamp query pool. Zero disables it.
	TimestampSlots uint32
}

// Context is the top level GPU backend state: the selected device, the
// memory allocator, the render pass and pipeline caches, the command
// stream and the deferred disposer. All methods except the timestamp pool
// must be called from the single recording thread.
type Context struct {
	instance     vk.Instance
	ownsInstance bool

	devctx     *DeviceContext
	allocator  *MemoryAllocator
	passes     *RenderPassCache
	pipelines  *PipelineStateCache
	stream     *CommandStream
	disposer   *ResourceDisposer
	timestamps *TimestampQueryPool

	currentRenderPass *RenderPass
	viewport          vk.Viewport
	finalDepthFormat  vk.Format
}

// NewContext brings up the backend: instance, physical device selection,
// logical device, allocator, caches, command stream and disposer, in that
// order. On any failure everything created so far is torn down.
func NewContext(config ContextConfig) (*Context, error) {
	c := &Context{}

	if config.Instance != nil {
		c.instance = config.Instance
	} else {
		instance, err := NewInstance(config)
		if err != nil {
			return nil, err
		}
		c.instance = instance
		c.ownsInstance = true
	}

	if err := c.bringUp(config); err != nil {
		c.Destroy()
		return nil, err
	}
	return c, nil
}

// NewInstance creates an instance with the window system extensions and,
// when requested, the validation layer. Callers that need a surface before
// device selection create the instance themselves and pass it in
// ContextConfig.Instance.
func NewInstance(config ContextConfig) (vk.Instance, error) {
	apiVersion := config.APIVersion
	if apiVersion == 0 {
		apiVersion = uint32(vk.MakeVersion(1, 0, 0))
	}
	extensions, err := InstanceExtensions()
	if err != nil {
		return nil, err
	}
	var layers []string
	if config.EnableValidation {
		available, err := ValidationLayers()
		if err != nil {
			return nil, err
		}
		var missing int
		layers, missing = checkExisting(available, []string{"VK_LAYER_KHRONOS_validation"})
		if missing > 0 {
			slogger().Warn("vulkan: validation layer not installed")
		}
	}
	var instance vk.Instance
	ret := vk.CreateInstance(&vk.InstanceCreateInfo{
		SType: vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &vk.ApplicationInfo{
			SType:            vk.StructureTypeApplicationInfo,
			PApplicationName: safeString(config.AppName),
			PEngineName:      safeString("filament"),
			ApiVersion:       apiVersion,
		},
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: safeStrings(extensions),
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     safeStrings(layers),
	}, nil, &instance)
	if err := NewError(ret); err != nil {
		return nil, err
	}
	vk.InitInstance(instance)
	return instance, nil
}

func (c *Context) bringUp(config ContextConfig) error {
	devctx, err := NewDeviceContext(c.instance, config.Surface)
	if err != nil {
		return err
	}
	c.devctx = devctx

	c.finalDepthFormat, err = devctx.FindSupportedFormat(depthFormatCandidates,
		vk.ImageTilingOptimal,
		vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit))
	if err != nil {
		return err
	}

	c.allocator, err = NewMemoryAllocator(devctx, config.AllocatorBlockSize)
	if err != nil {
		return err
	}
	c.passes = NewRenderPassCache(devctx.Device())
	c.pipelines, err = NewPipelineStateCache(devctx.Device())
	if err != nil {
		return err
	}
	c.stream, err = NewCommandStream(devctx)
	if err != nil {
		return err
	}
	c.disposer = NewResourceDisposer(c.stream)
	if config.TimestampSlots > 0 {
		c.timestamps, err = NewTimestampQueryPool(devctx.Device(), config.TimestampSlots)
		if err != nil {
			return err
		}
	}

	slogger().Info("vulkan: backend ready",
		"device", devctx.Info().Name,
		"depthFormat", c.finalDepthFormat)
	return nil
}

// Device returns the device context.
func (c *Context) Device() *DeviceContext { return c.devctx }

// Allocator returns the pooled memory allocator.
func (c *Context) Allocator() *MemoryAllocator { return c.allocator }

// Stream returns the command stream.
func (c *Context) Stream() *CommandStream { return c.stream }

// Timestamps returns the timestamp query pool, or nil when disabled.
func (c *Context) Timestamps() *TimestampQueryPool { return c.timestamps }

// FinalDepthFormat returns the depth attachment format negotiated at
// bring-up.
func (c *Context) FinalDepthFormat() vk.Format { return c.finalDepthFormat }

// AcquireRenderPass fetches or creates the render pass for the given
// parameters, makes it current and resets its subpass cursor.
func (c *Context) AcquireRenderPass(params RenderPassParams) (*RenderPass, error) {
	pass, err := c.passes.Acquire(params)
	if err != nil {
		return nil, err
	}
	pass.Begin()
	c.currentRenderPass = pass
	return pass, nil
}

// CurrentRenderPass returns the render pass made current by the last
// AcquireRenderPass, or nil.
func (c *Context) CurrentRenderPass() *RenderPass { return c.currentRenderPass }

// AcquirePipeline fetches or bakes the pipeline for the raster state and
// program against the current render pass.
func (c *Context) AcquirePipeline(raster RasterState, program *ShaderProgram) (*Pipeline, error) {
	if c.currentRenderPass == nil {
		return nil, errors.New("vulkan: no current render pass")
	}
	return c.pipelines.Acquire(raster, program, c.currentRenderPass)
}

// CreateBuffer creates a buffer backed by pooled device memory.
func (c *Context) CreateBuffer(size vk.DeviceSize, usage vk.BufferUsageFlagBits, pool MemoryPool) (*Buffer, error) {
	return NewBuffer(c.devctx.Device(), c.allocator, size, usage, pool)
}

// DestroyBuffer defers destruction of the buffer until every command buffer
// recorded so far has retired.
func (c *Context) DestroyBuffer(buffer *Buffer) {
	if buffer == nil {
		return
	}
	c.disposer.Enqueue(DisposeFunc(func() {
		buffer.Destroy(c.devctx.Device(), c.allocator)
	}))
}

// Allocate carves device memory from the given pool.
func (c *Context) Allocate(size, alignment vk.DeviceSize, pool MemoryPool) (*Allocation, error) {
	return c.allocator.Allocate(size, alignment, pool)
}

// Free returns an allocation to its pool.
func (c *Context) Free(alloc *Allocation) { c.allocator.Free(alloc) }

// EnqueueDisposal defers destruction of a resource until every command
// buffer recorded so far has retired.
func (c *Context) EnqueueDisposal(resource Disposable) { c.disposer.Enqueue(resource) }

// CollectGarbage polls the command stream for retired submissions and
// destroys any disposals they were gating. Called once per frame.
func (c *Context) CollectGarbage() (int, error) {
	retired, err := c.stream.Poll()
	if err != nil {
		return 0, err
	}
	return c.disposer.Poll(retired), nil
}

// AllocateTimestampSlot reserves a GPU timing query slot.
func (c *Context) AllocateTimestampSlot() (uint32, error) {
	if c.timestamps == nil {
		return 0, errors.Wrap(ErrPoolExhausted, "timestamp queries disabled")
	}
	return c.timestamps.AllocateSlot()
}

// ReleaseTimestampSlot returns a timing query slot. The caller must know the
// GPU has finished writing the query, typically by waiting on the epoch of
// the recording submission.
func (c *Context) ReleaseTimestampSlot(slot uint32) {
	if c.timestamps != nil {
		c.timestamps.ReleaseSlot(slot)
	}
}

// SupportsDebugMarkers reports VK_EXT_debug_marker availability.
func (c *Context) SupportsDebugMarkers() bool { return c.devctx.SupportsDebugMarkers() }

// SupportsDebugUtils reports VK_EXT_debug_utils availability.
func (c *Context) SupportsDebugUtils() bool { return c.devctx.SupportsDebugUtils() }

// SetViewport records the viewport applied to subsequent draws.
func (c *Context) SetViewport(viewport vk.Viewport) { c.viewport = viewport }

// Viewport returns the last viewport set.
func (c *Context) Viewport() vk.Viewport { return c.viewport }

// Destroy tears the backend down in reverse bring-up order. It waits for
// the queue to idle and drains pending disposals first.
func (c *Context) Destroy() {
	if c.stream != nil {
		if err := c.stream.WaitIdle(); err != nil {
			slogger().Warn("vulkan: wait idle during teardown", "err", err)
		}
	}
	if c.disposer != nil {
		c.disposer.Drain()
	}
	if c.timestamps != nil {
		c.timestamps.Destroy()
	}
	if c.stream != nil {
		c.stream.Destroy()
	}
	if c.pipelines != nil {
		c.pipelines.Destroy()
	}
	if c.passes != nil {
		c.passes.Destroy()
	}
	if c.allocator != nil {
		c.allocator.Destroy()
	}
	if c.devctx != nil {
		c.devctx.Destroy()
	}
	if c.ownsInstance && c.instance != nil {
		vk.DestroyInstance(c.instance, nil)
		c.instance = nil
	}
	c.currentRenderPass = nil
}
