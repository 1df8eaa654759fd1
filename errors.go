package filament

import (
	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// Error taxonomy of the backend. Device and capability mismatches are fatal:
// they mean the host hardware or driver does not meet the engine's minimum
// requirements and retrying cannot help. ErrOutOfDeviceMemory is the one
// recoverable case; callers may free unused allocations and retry once.
// ErrPoolExhausted asks the caller to release slots or reduce concurrent
// query usage. All sentinels are errors.Is-matchable through wrapping.
var (
	// ErrNoSuitableDevice is returned when no physical device exposes a
	// queue family with graphics and presentation support.
	ErrNoSuitableDevice = errors.New("vulkan: no suitable physical device")

	// ErrNoMatchingMemoryType is returned when no memory type satisfies
	// both the requested property flags and the requirement bitmask.
	ErrNoMatchingMemoryType = errors.New("vulkan: no matching memory type")

	// ErrNoSupportedFormat is returned when none of the candidate formats
	// supports the requested tiling features.
	ErrNoSupportedFormat = errors.New("vulkan: no supported format among candidates")

	// ErrOutOfDeviceMemory is returned when a pool cannot satisfy an
	// allocation and the device refuses to back a new block.
	ErrOutOfDeviceMemory = errors.New("vulkan: out of device memory")

	// ErrSubpassOverflow is returned when NextSubpass is called past the
	// last subpass declared by the render pass parameters.
	ErrSubpassOverflow = errors.New("vulkan: subpass index past last declared subpass")

	// ErrPoolExhausted is returned when every timestamp query slot is in use.
	ErrPoolExhausted = errors.New("vulkan: timestamp query pool exhausted")
)

func isError(ret vk.Result) bool {
	return ret != vk.Success
}

// NewError converts a Vulkan result code into an error, or nil on success.
func NewError(ret vk.Result) error {
	if ret != vk.Success {
		return errors.Newf("vulkan error: %s (%d)", vk.Error(ret).Error(), ret)
	}
	return nil
}

// Retriable reports whether the caller may free resources and retry the
// failed operation once. Only allocation failures qualify; capability
// mismatches are permanent.
func Retriable(err error) bool {
	return errors.Is(err, ErrOutOfDeviceMemory)
}

func orPanic(err error) {
	if err != nil {
		panic(err)
	}
}

// checkErr recovers a panic raised through orPanic into the named error
// return of the enclosing function.
func checkErr(err *error) {
	if v := recover(); v != nil {
		*err = errors.Newf("%+v", v)
	}
}
