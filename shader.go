package filament

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// programIDs hands out stable shader program identities for pipeline cache
// keys.
var programIDs atomic.Uint64

// ShaderProgram bundles the vertex and fragment modules of one material
// variant. The SPIR-V blobs are opaque: they come precompiled from the
// material compiler. Each program carries a process-unique identity used in
// pipeline cache keys.
type ShaderProgram struct {
	id       uint64
	vertex   vk.ShaderModule
	fragment vk.ShaderModule
}

// NewShaderProgram creates the shader modules for a vertex/fragment pair of
// compiled SPIR-V blobs.
func NewShaderProgram(device vk.Device, vertexSPIRV, fragmentSPIRV []byte) (*ShaderProgram, error) {
	vertex, err := createShaderModule(device, vertexSPIRV)
	if err != nil {
		return nil, errors.Wrap(err, "vertex stage")
	}
	fragment, err := createShaderModule(device, fragmentSPIRV)
	if err != nil {
		vk.DestroyShaderModule(device, vertex, nil)
		return nil, errors.Wrap(err, "fragment stage")
	}
	p := newShaderProgram()
	p.vertex = vertex
	p.fragment = fragment
	return p, nil
}

func newShaderProgram() *ShaderProgram {
	return &ShaderProgram{id: programIDs.Add(1)}
}

func createShaderModule(device vk.Device, spirv []byte) (vk.ShaderModule, error) {
	if len(spirv) == 0 || len(spirv)%4 != 0 {
		return vk.NullShaderModule, errors.Newf("vulkan: SPIR-V blob length %d is not a multiple of 4", len(spirv))
	}
	var module vk.ShaderModule
	ret := vk.CreateShaderModule(device, &vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(spirv)),
		PCode:    sliceUint32(spirv),
	}, nil, &module)
	if err := NewError(ret); err != nil {
		return vk.NullShaderModule, err
	}
	return module, nil
}

// ID returns the program's stable identity.
func (p *ShaderProgram) ID() uint64 { return p.id }

// Destroy releases both shader modules.
func (p *ShaderProgram) Destroy(device vk.Device) {
	if p.vertex != vk.NullShaderModule {
		vk.DestroyShaderModule(device, p.vertex, nil)
		p.vertex = vk.NullShaderModule
	}
	if p.fragment != vk.NullShaderModule {
		vk.DestroyShaderModule(device, p.fragment, nil)
		p.fragment = vk.NullShaderModule
	}
}
