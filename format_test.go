package filament

import (
	"testing"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

func tableQuery(table map[vk.Format]vk.FormatProperties) formatQuery {
	return func(format vk.Format) vk.FormatProperties {
		return table[format]
	}
}

func TestFindSupportedFormat(t *testing.T) {
	depth := vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit)
	sampled := vk.FormatFeatureFlags(vk.FormatFeatureSampledImageBit)

	tests := []struct {
		name       string
		table      map[vk.Format]vk.FormatProperties
		candidates []vk.Format
		tiling     vk.ImageTiling
		features   vk.FormatFeatureFlags
		want       vk.Format
		wantErr    error
	}{
		{
			name: "first candidate wins",
			table: map[vk.Format]vk.FormatProperties{
				vk.FormatD32Sfloat:      {OptimalTilingFeatures: depth},
				vk.FormatD24UnormS8Uint: {OptimalTilingFeatures: depth},
			},
			candidates: []vk.Format{vk.FormatD32Sfloat, vk.FormatD24UnormS8Uint},
			tiling:     vk.ImageTilingOptimal,
			features:   depth,
			want:       vk.FormatD32Sfloat,
		},
		{
			name: "falls through to later candidate",
			table: map[vk.Format]vk.FormatProperties{
				vk.FormatD24UnormS8Uint: {OptimalTilingFeatures: depth},
			},
			candidates: []vk.Format{vk.FormatD32Sfloat, vk.FormatD24UnormS8Uint},
			tiling:     vk.ImageTilingOptimal,
			features:   depth,
			want:       vk.FormatD24UnormS8Uint,
		},
		{
			name: "tiling selects the feature set",
			table: map[vk.Format]vk.FormatProperties{
				vk.FormatR8g8b8a8Unorm: {
					LinearTilingFeatures:  sampled,
					OptimalTilingFeatures: 0,
				},
			},
			candidates: []vk.Format{vk.FormatR8g8b8a8Unorm},
			tiling:     vk.ImageTilingLinear,
			features:   sampled,
			want:       vk.FormatR8g8b8a8Unorm,
		},
		{
			name: "optimal support does not satisfy linear",
			table: map[vk.Format]vk.FormatProperties{
				vk.FormatR8g8b8a8Unorm: {OptimalTilingFeatures: sampled},
			},
			candidates: []vk.Format{vk.FormatR8g8b8a8Unorm},
			tiling:     vk.ImageTilingLinear,
			features:   sampled,
			wantErr:    ErrNoSupportedFormat,
		},
		{
			name: "partial feature support is rejected",
			table: map[vk.Format]vk.FormatProperties{
				vk.FormatD32Sfloat: {OptimalTilingFeatures: sampled},
			},
			candidates: []vk.Format{vk.FormatD32Sfloat},
			tiling:     vk.ImageTilingOptimal,
			features:   sampled | depth,
			wantErr:    ErrNoSupportedFormat,
		},
		{
			name:       "no candidates",
			table:      nil,
			candidates: nil,
			tiling:     vk.ImageTilingOptimal,
			features:   depth,
			wantErr:    ErrNoSupportedFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := findSupportedFormat(tableQuery(tt.table), tt.candidates, tt.tiling, tt.features)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("findSupportedFormat() error = %v, want %v", err, tt.wantErr)
				}
				if got != vk.FormatUndefined {
					t.Fatalf("findSupportedFormat() = %d on failure, want FormatUndefined", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("findSupportedFormat() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("findSupportedFormat() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDepthCandidatesPreferHighPrecision(t *testing.T) {
	if depthFormatCandidates[0] != vk.FormatD32Sfloat {
		t.Fatalf("first depth candidate = %d, want FormatD32Sfloat", depthFormatCandidates[0])
	}
	if last := depthFormatCandidates[len(depthFormatCandidates)-1]; last != vk.FormatD16Unorm {
		t.Fatalf("last depth candidate = %d, want FormatD16Unorm", last)
	}
}
