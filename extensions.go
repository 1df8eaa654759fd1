package filament

import (
	vk "github.com/vulkan-go/vulkan"
)

// Optional device extensions whose presence is recorded once as capability
// flags at device-creation time and never re-queried.
const (
	extDebugMarker       = "VK_EXT_debug_marker"
	extDebugUtils        = "VK_EXT_debug_utils"
	extPortabilitySubset = "VK_KHR_portability_subset"
	extMaintenance1      = "VK_KHR_maintenance1"
	extMaintenance2      = "VK_KHR_maintenance2"
	extMaintenance3      = "VK_KHR_maintenance3"
)

// extensionNames runs the count-then-fill enumeration protocol over the given
// query and collects the extension names.
func extensionNames(enumerate func(count *uint32, list []vk.ExtensionProperties) vk.Result) ([]string, error) {
	var count uint32
	if err := NewError(enumerate(&count, nil)); err != nil {
		return nil, err
	}
	list := make([]vk.ExtensionProperties, count)
	if err := NewError(enumerate(&count, list)); err != nil {
		return nil, err
	}
	names := make([]string, 0, count)
	for _, ext := range list {
		ext.Deref()
		names = append(names, vk.ToString(ext.ExtensionName[:]))
	}
	return names, nil
}

// InstanceExtensions gets a list of instance extensions available on the platform.
func InstanceExtensions() ([]string, error) {
	return extensionNames(func(count *uint32, list []vk.ExtensionProperties) vk.Result {
		return vk.EnumerateInstanceExtensionProperties("", count, list)
	})
}

// DeviceExtensions gets a list of device extensions available on the provided
// physical device.
func DeviceExtensions(gpu vk.PhysicalDevice) ([]string, error) {
	return extensionNames(func(count *uint32, list []vk.ExtensionProperties) vk.Result {
		return vk.EnumerateDeviceExtensionProperties(gpu, "", count, list)
	})
}

// ValidationLayers gets a list of validation layers available on the platform.
func ValidationLayers() (names []string, err error) {
	defer checkErr(&err)

	var count uint32
	orPanic(NewError(vk.EnumerateInstanceLayerProperties(&count, nil)))
	list := make([]vk.LayerProperties, count)
	orPanic(NewError(vk.EnumerateInstanceLayerProperties(&count, list)))
	for _, layer := range list {
		layer.Deref()
		names = append(names, vk.ToString(layer.LayerName[:]))
	}
	return names, err
}
