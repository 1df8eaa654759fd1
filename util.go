package filament

import (
	"unsafe"
)

// safeString null-terminates s for handoff to the C side.
func safeString(s string) string {
	if len(s) == 0 {
		return "\x00"
	}
	if s[len(s)-1] != '\x00' {
		return s + "\x00"
	}
	return s
}

func safeStrings(list []string) []string {
	for i := range list {
		list[i] = safeString(list[i])
	}
	return list
}

// checkExisting intersects the available names with the required ones,
// returning the usable subset and how many required names were missing.
func checkExisting(actual, required []string) (existing []string, missing int) {
	for _, req := range required {
		found := false
		for _, act := range actual {
			if req == act {
				existing = append(existing, req)
				found = true
				break
			}
		}
		if !found {
			missing++
		}
	}
	return existing, missing
}

func hasExtension(list []string, name string) bool {
	for _, ext := range list {
		if ext == name {
			return true
		}
	}
	return false
}

// sliceUint32 reinterprets SPIR-V bytes as the uint32 words Vulkan expects.
// The input length must be a multiple of 4.
func sliceUint32(data []byte) []uint32 {
	const m = 0x7fffffff
	if len(data) == 0 {
		return nil
	}
	return (*[m / 4]uint32)(unsafe.Pointer(&data[0]))[:len(data)/4]
}
