package filament

import (
	"testing"

	vk "github.com/vulkan-go/vulkan"
)

func countingPipelineFactory(calls *int) pipelineFactory {
	return func(RasterState, *ShaderProgram, *RenderPass) (vk.Pipeline, error) {
		*calls++
		return vk.NullPipeline, nil
	}
}

func TestPipelineCacheReturnsSameObject(t *testing.T) {
	calls := 0
	c := newPipelineStateCache(countingPipelineFactory(&calls))
	program := newShaderProgram()
	pass := &RenderPass{Params: simplePassParams()}

	first, err := c.Acquire(DefaultRasterState(), program, pass)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	second, err := c.Acquire(DefaultRasterState(), program, pass)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if first != second {
		t.Fatal("equal key produced distinct pipelines")
	}
	if calls != 1 {
		t.Fatalf("pipelines baked = %d, want 1", calls)
	}
	if hits, misses := c.Stats(); hits != 1 || misses != 1 {
		t.Fatalf("Stats() = (%d, %d), want (1, 1)", hits, misses)
	}
}

func TestPipelineCacheKeyedOnRasterState(t *testing.T) {
	calls := 0
	c := newPipelineStateCache(countingPipelineFactory(&calls))
	program := newShaderProgram()
	pass := &RenderPass{Params: simplePassParams()}

	opaque := DefaultRasterState()
	blended := DefaultRasterState()
	blended.BlendEnable = true
	blended.SrcColorBlendFactor = vk.BlendFactorSrcAlpha
	blended.DstColorBlendFactor = vk.BlendFactorOneMinusSrcAlpha

	first, _ := c.Acquire(opaque, program, pass)
	second, _ := c.Acquire(blended, program, pass)
	if first == second {
		t.Fatal("different raster state aliased a pipeline")
	}
	if calls != 2 || c.Size() != 2 {
		t.Fatalf("baked = %d, size = %d; want 2, 2", calls, c.Size())
	}
}

func TestPipelineCacheKeyedOnProgramIdentity(t *testing.T) {
	calls := 0
	c := newPipelineStateCache(countingPipelineFactory(&calls))
	pass := &RenderPass{Params: simplePassParams()}

	first, _ := c.Acquire(DefaultRasterState(), newShaderProgram(), pass)
	second, _ := c.Acquire(DefaultRasterState(), newShaderProgram(), pass)
	if first == second {
		t.Fatal("distinct programs aliased a pipeline")
	}
	if calls != 2 {
		t.Fatalf("baked = %d, want 2", calls)
	}
}

func TestPipelineCacheKeyExcludesRenderPass(t *testing.T) {
	calls := 0
	c := newPipelineStateCache(countingPipelineFactory(&calls))
	program := newShaderProgram()

	passA := &RenderPass{Params: simplePassParams()}
	noDepth := simplePassParams()
	noDepth.HasDepth = false
	passB := &RenderPass{Params: noDepth}

	first, _ := c.Acquire(DefaultRasterState(), program, passA)
	second, _ := c.Acquire(DefaultRasterState(), program, passB)
	if first != second {
		t.Fatal("render pass leaked into the pipeline key")
	}
	if calls != 1 {
		t.Fatalf("baked = %d, want 1", calls)
	}
}

func TestShaderProgramIdentitiesAreUnique(t *testing.T) {
	seen := make(map[uint64]bool)
	for i := 0; i < 100; i++ {
		id := newShaderProgram().ID()
		if seen[id] {
			t.Fatalf("duplicate program identity %d", id)
		}
		seen[id] = true
	}
}
