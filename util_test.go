package filament

import "testing"

func TestSafeString(t *testing.T) {
	if got := safeString("main"); got != "main\x00" {
		t.Fatalf("safeString(main) = %q", got)
	}
	if got := safeString("main\x00"); got != "main\x00" {
		t.Fatalf("safeString already terminated = %q", got)
	}
	if got := safeString(""); got != "\x00" {
		t.Fatalf("safeString empty = %q", got)
	}
}

func TestCheckExisting(t *testing.T) {
	actual := []string{"VK_LAYER_KHRONOS_validation", "VK_LAYER_MESA_overlay"}

	existing, missing := checkExisting(actual, []string{"VK_LAYER_KHRONOS_validation"})
	if missing != 0 || len(existing) != 1 {
		t.Fatalf("checkExisting = (%v, %d)", existing, missing)
	}

	existing, missing = checkExisting(actual, []string{"VK_LAYER_LUNARG_api_dump", "VK_LAYER_MESA_overlay"})
	if missing != 1 || len(existing) != 1 || existing[0] != "VK_LAYER_MESA_overlay" {
		t.Fatalf("checkExisting = (%v, %d)", existing, missing)
	}
}

func TestHasExtension(t *testing.T) {
	list := []string{extDebugMarker, extMaintenance1}
	if !hasExtension(list, extDebugMarker) || hasExtension(list, extMaintenance2) {
		t.Fatal("hasExtension misreported membership")
	}
}

func TestSliceUint32(t *testing.T) {
	words := sliceUint32([]byte{0x03, 0x02, 0x23, 0x07})
	if len(words) != 1 || words[0] != 0x07230203 {
		t.Fatalf("sliceUint32 = %#v, want the SPIR-V magic word", words)
	}
	if sliceUint32(nil) != nil {
		t.Fatal("sliceUint32(nil) should be nil")
	}
}
