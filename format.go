package filament

import (
	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// formatQuery reports the device's support for a single format. The
// production query wraps vk.GetPhysicalDeviceFormatProperties; tests
// substitute a table.
type formatQuery func(format vk.Format) vk.FormatProperties

// findSupportedFormat walks candidates in priority order and returns the
// first whose queried support for the given tiling is a superset of the
// requested features. It never returns a format with insufficient support.
func findSupportedFormat(query formatQuery, candidates []vk.Format,
	tiling vk.ImageTiling, features vk.FormatFeatureFlags) (vk.Format, error) {

	for _, format := range candidates {
		props := query(format)
		var supported vk.FormatFeatureFlags
		switch tiling {
		case vk.ImageTilingLinear:
			supported = props.LinearTilingFeatures
		case vk.ImageTilingOptimal:
			supported = props.OptimalTilingFeatures
		}
		if supported&features == features {
			return format, nil
		}
	}
	return vk.FormatUndefined, errors.Wrapf(ErrNoSupportedFormat,
		"%d candidates, tiling %d, features 0x%x", len(candidates), tiling, features)
}

// depthFormatCandidates is the priority order used to negotiate the final
// depth attachment format at context creation.
var depthFormatCandidates = []vk.Format{
	vk.FormatD32Sfloat,
	vk.FormatD32SfloatS8Uint,
	vk.FormatD24UnormS8Uint,
	vk.FormatX8D24UnormPack32,
	vk.FormatD16Unorm,
}
