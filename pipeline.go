package filament

import (
	vk "github.com/vulkan-go/vulkan"
)

// RasterState is the fixed-function draw state baked into a pipeline:
// culling, blending and depth/stencil configuration. It is a plain value;
// exact field equality combined with the shader program identity forms the
// pipeline cache key.
type RasterState struct {
	Topology    vk.PrimitiveTopology
	PolygonMode vk.PolygonMode
	CullMode    vk.CullModeFlagBits
	FrontFace   vk.FrontFace
	Samples     vk.SampleCountFlagBits

	BlendEnable         bool
	SrcColorBlendFactor vk.BlendFactor
	DstColorBlendFactor vk.BlendFactor
	ColorBlendOp        vk.BlendOp
	SrcAlphaBlendFactor vk.BlendFactor
	DstAlphaBlendFactor vk.BlendFactor
	AlphaBlendOp        vk.BlendOp
	ColorWriteMask      vk.ColorComponentFlagBits

	DepthTest      bool
	DepthWrite     bool
	DepthCompareOp vk.CompareOp
}

// DefaultRasterState is the opaque-geometry baseline: back-face culling,
// no blending, depth test and write enabled.
func DefaultRasterState() RasterState {
	return RasterState{
		Topology:    vk.PrimitiveTopologyTriangleList,
		PolygonMode: vk.PolygonModeFill,
		CullMode:    vk.CullModeBackBit,
		FrontFace:   vk.FrontFaceCounterClockwise,
		Samples:     vk.SampleCount1Bit,
		ColorWriteMask: vk.ColorComponentRBit | vk.ColorComponentGBit |
			vk.ColorComponentBBit | vk.ColorComponentABit,
		DepthTest:      true,
		DepthWrite:     true,
		DepthCompareOp: vk.CompareOpLessOrEqual,
	}
}

// pipelineKey is the exact-value cache key: raster state plus shader
// program identity. No partial matching.
type pipelineKey struct {
	raster  RasterState
	program uint64
}

// Pipeline is a cached hardware pipeline object.
type Pipeline struct {
	Handle vk.Pipeline
}

// pipelineFactory bakes the hardware object on a cache miss. Baking is
// expensive: shader compilation to microcode plus fixed-function state.
type pipelineFactory func(raster RasterState, program *ShaderProgram, pass *RenderPass) (vk.Pipeline, error)

// PipelineStateCache hands out at most one pipeline object per distinct
// (RasterState, program) key. Lookups are exact value matches over the
// raster fields and the program identity.
//
// The cache is accessed only from the recording thread and takes no locks;
// with a single builder there can be no duplicate concurrent build for a
// key.
type PipelineStateCache struct {
	device vk.Device
	build  pipelineFactory
	layout vk.PipelineLayout

	pipelines map[pipelineKey]*Pipeline
	hits      uint64
	misses    uint64
}

// NewPipelineStateCache returns a cache baking pipelines on the given
// device.
func NewPipelineStateCache(device vk.Device) (*PipelineStateCache, error) {
	// All pipelines share one empty layout until descriptor sets land in
	// the backend.
	var layout vk.PipelineLayout
	ret := vk.CreatePipelineLayout(device, &vk.PipelineLayoutCreateInfo{
		SType: vk.StructureTypePipelineLayoutCreateInfo,
	}, nil, &layout)
	if err := NewError(ret); err != nil {
		return nil, err
	}
	c := newPipelineStateCache(nil)
	c.device = device
	c.layout = layout
	c.build = func(raster RasterState, program *ShaderProgram, pass *RenderPass) (vk.Pipeline, error) {
		return buildPipeline(device, layout, raster, program, pass)
	}
	return c, nil
}

func newPipelineStateCache(build pipelineFactory) *PipelineStateCache {
	return &PipelineStateCache{
		build:     build,
		pipelines: make(map[pipelineKey]*Pipeline),
	}
}

// Acquire returns the cached pipeline for the key, baking and inserting it
// on first use. pass provides the compatibility target for a miss and is
// not part of the key: a miss bakes the pipeline against the pass's active
// subpass at that moment, and later hits with a different pass or subpass
// return that same pipeline. Callers must only reuse a raster/program pair
// across render passes that are subpass-compatible with the baking one.
func (c *PipelineStateCache) Acquire(raster RasterState, program *ShaderProgram, pass *RenderPass) (*Pipeline, error) {
	key := pipelineKey{raster: raster, program: program.ID()}
	if pipeline, ok := c.pipelines[key]; ok {
		c.hits++
		return pipeline, nil
	}

	handle, err := c.build(raster, program, pass)
	if err != nil {
		return nil, err
	}
	pipeline := &Pipeline{Handle: handle}
	c.pipelines[key] = pipeline
	c.misses++
	slogger().Debug("vulkan: pipeline baked", "program", program.ID())
	return pipeline, nil
}

// Size returns the number of cached pipelines.
func (c *PipelineStateCache) Size() int { return len(c.pipelines) }

// Stats returns hit and miss counts.
func (c *PipelineStateCache) Stats() (hits, misses uint64) {
	return c.hits, c.misses
}

// Destroy releases every cached pipeline and the shared layout.
func (c *PipelineStateCache) Destroy() {
	for key, pipeline := range c.pipelines {
		if c.device != nil && pipeline.Handle != vk.NullPipeline {
			vk.DestroyPipeline(c.device, pipeline.Handle, nil)
		}
		delete(c.pipelines, key)
	}
	if c.device != nil && c.layout != vk.NullPipelineLayout {
		vk.DestroyPipelineLayout(c.device, c.layout, nil)
		c.layout = vk.NullPipelineLayout
	}
}

// buildPipeline assembles the graphics pipeline creation structures from the
// raster state and shader stages. Viewport and scissor are dynamic so that
// resizes do not invalidate cached pipelines.
func buildPipeline(device vk.Device, layout vk.PipelineLayout,
	raster RasterState, program *ShaderProgram, pass *RenderPass) (vk.Pipeline, error) {

	stages := []vk.PipelineShaderStageCreateInfo{{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  vk.ShaderStageVertexBit,
		Module: program.vertex,
		PName:  safeString("main"),
	}, {
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  vk.ShaderStageFragmentBit,
		Module: program.fragment,
		PName:  safeString("main"),
	}}

	blendEnable := vk.Bool32(vk.False)
	if raster.BlendEnable {
		blendEnable = vk.Bool32(vk.True)
	}
	blendAttachments := make([]vk.PipelineColorBlendAttachmentState, len(pass.Params.ColorAttachments))
	for i := range blendAttachments {
		blendAttachments[i] = vk.PipelineColorBlendAttachmentState{
			BlendEnable:         blendEnable,
			SrcColorBlendFactor: raster.SrcColorBlendFactor,
			DstColorBlendFactor: raster.DstColorBlendFactor,
			ColorBlendOp:        raster.ColorBlendOp,
			SrcAlphaBlendFactor: raster.SrcAlphaBlendFactor,
			DstAlphaBlendFactor: raster.DstAlphaBlendFactor,
			AlphaBlendOp:        raster.AlphaBlendOp,
			ColorWriteMask:      vk.ColorComponentFlags(raster.ColorWriteMask),
		}
	}

	depthTest := vk.Bool32(vk.False)
	if raster.DepthTest {
		depthTest = vk.Bool32(vk.True)
	}
	depthWrite := vk.Bool32(vk.False)
	if raster.DepthWrite {
		depthWrite = vk.Bool32(vk.True)
	}

	samples := raster.Samples
	if samples == 0 {
		samples = vk.SampleCount1Bit
	}

	info := vk.GraphicsPipelineCreateInfo{
		SType:      vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount: uint32(len(stages)),
		PStages:    stages,
		PVertexInputState: &vk.PipelineVertexInputStateCreateInfo{
			SType: vk.StructureTypePipelineVertexInputStateCreateInfo,
		},
		PInputAssemblyState: &vk.PipelineInputAssemblyStateCreateInfo{
			SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
			Topology: raster.Topology,
		},
		PViewportState: &vk.PipelineViewportStateCreateInfo{
			SType:         vk.StructureTypePipelineViewportStateCreateInfo,
			ViewportCount: 1,
			ScissorCount:  1,
		},
		PRasterizationState: &vk.PipelineRasterizationStateCreateInfo{
			SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
			PolygonMode: raster.PolygonMode,
			CullMode:    vk.CullModeFlags(raster.CullMode),
			FrontFace:   raster.FrontFace,
			LineWidth:   1.0,
		},
		PMultisampleState: &vk.PipelineMultisampleStateCreateInfo{
			SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
			RasterizationSamples: samples,
			MinSampleShading:     1.0,
		},
		PDepthStencilState: &vk.PipelineDepthStencilStateCreateInfo{
			SType:            vk.StructureTypePipelineDepthStencilStateCreateInfo,
			DepthTestEnable:  depthTest,
			DepthWriteEnable: depthWrite,
			DepthCompareOp:   raster.DepthCompareOp,
		},
		PColorBlendState: &vk.PipelineColorBlendStateCreateInfo{
			SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
			AttachmentCount: uint32(len(blendAttachments)),
			PAttachments:    blendAttachments,
		},
		PDynamicState: &vk.PipelineDynamicStateCreateInfo{
			SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
			DynamicStateCount: 2,
			PDynamicStates: []vk.DynamicState{
				vk.DynamicStateViewport,
				vk.DynamicStateScissor,
			},
		},
		Layout:     layout,
		RenderPass: pass.Handle,
		Subpass:    uint32(pass.CurrentSubpass()),
	}

	pipelines := []vk.Pipeline{vk.NullPipeline}
	ret := vk.CreateGraphicsPipelines(device, nil, 1,
		[]vk.GraphicsPipelineCreateInfo{info}, nil, pipelines)
	if err := NewError(ret); err != nil {
		return vk.NullPipeline, err
	}
	return pipelines[0], nil
}
