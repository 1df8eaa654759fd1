package filament

import (
	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// QueueFamilyInfo describes one queue family of a physical device.
type QueueFamilyInfo struct {
	Flags      vk.QueueFlags
	Count      uint32
	CanPresent bool
}

// PhysicalDeviceInfo is a plain descriptor of an enumerated physical device.
// Selection logic operates on these descriptors rather than on live handles
// so it stays deterministic and testable without a driver.
type PhysicalDeviceInfo struct {
	Index            int
	Name             string
	Type             vk.PhysicalDeviceType
	DeviceLocalBytes vk.DeviceSize
	QueueFamilies    []QueueFamilyInfo
	Extensions       []string
}

// GraphicsFamily returns the index of the first queue family supporting both
// graphics and presentation, or false when the device has none.
func (info PhysicalDeviceInfo) GraphicsFamily() (uint32, bool) {
	for i, fam := range info.QueueFamilies {
		if fam.Flags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 && fam.CanPresent {
			return uint32(i), true
		}
	}
	return 0, false
}

// pickPhysicalDevice selects a device exposing a graphics+present queue
// family. Deterministic tie-break: discrete GPUs beat integrated ones, then
// the largest device-local memory wins, then the lowest enumeration index.
func pickPhysicalDevice(infos []PhysicalDeviceInfo) (deviceIndex int, familyIndex uint32, err error) {
	best := -1
	var bestFamily uint32
	for i, info := range infos {
		family, ok := info.GraphicsFamily()
		if !ok {
			continue
		}
		if best < 0 || betterDevice(info, infos[best]) {
			best = i
			bestFamily = family
		}
	}
	if best < 0 {
		return 0, 0, errors.Wrapf(ErrNoSuitableDevice,
			"%d devices enumerated, none with a graphics+present queue family", len(infos))
	}
	return best, bestFamily, nil
}

func betterDevice(a, b PhysicalDeviceInfo) bool {
	aDiscrete := a.Type == vk.PhysicalDeviceTypeDiscreteGpu
	bDiscrete := b.Type == vk.PhysicalDeviceTypeDiscreteGpu
	if aDiscrete != bDiscrete {
		return aDiscrete
	}
	return a.DeviceLocalBytes > b.DeviceLocalBytes
}

// selectMemoryType returns the index of the first memory type whose property
// flags are a superset of flags and whose bit is set in requirementBits.
func selectMemoryType(props vk.PhysicalDeviceMemoryProperties,
	flags vk.MemoryPropertyFlags, requirementBits uint32) (uint32, error) {

	for i := uint32(0); i < props.MemoryTypeCount; i++ {
		if requirementBits&(1<<i) == 0 {
			continue
		}
		if props.MemoryTypes[i].PropertyFlags&flags == flags {
			return i, nil
		}
	}
	return 0, errors.Wrapf(ErrNoMatchingMemoryType,
		"flags 0x%x, requirement bits 0b%b", flags, requirementBits)
}

// DeviceContext owns the selected physical device, the logical device and its
// single graphics queue, and the capability flags negotiated at creation.
// Capability flags are queried once during CreateLogicalDevice and are
// read-only thereafter.
type DeviceContext struct {
	instance vk.Instance
	surface  vk.Surface

	gpu              vk.PhysicalDevice
	gpuInfo          PhysicalDeviceInfo
	gpuProperties    vk.PhysicalDeviceProperties
	memoryProperties vk.PhysicalDeviceMemoryProperties

	device                   vk.Device
	graphicsQueueFamilyIndex uint32
	graphicsQueue            vk.Queue

	debugMarkersSupported      bool
	debugUtilsSupported        bool
	portabilitySubsetSupported bool
	maintenanceSupported       [3]bool
}

// NewDeviceContext selects a physical device against the given surface and
// creates the logical device. Both failures are unrecoverable initialization
// errors.
func NewDeviceContext(instance vk.Instance, surface vk.Surface) (*DeviceContext, error) {
	d := &DeviceContext{
		instance: instance,
		surface:  surface,
	}
	if err := d.SelectPhysicalDevice(); err != nil {
		return nil, err
	}
	if err := d.CreateLogicalDevice(); err != nil {
		return nil, err
	}
	return d, nil
}

// SelectPhysicalDevice enumerates the available physical devices and picks
// one exposing a graphics+present queue family, preferring discrete hardware
// and the largest device-local memory.
func (d *DeviceContext) SelectPhysicalDevice() error {
	var gpuCount uint32
	ret := vk.EnumeratePhysicalDevices(d.instance, &gpuCount, nil)
	if err := NewError(ret); err != nil {
		return err
	}
	if gpuCount == 0 {
		return errors.Wrap(ErrNoSuitableDevice, "no physical devices found")
	}
	gpus := make([]vk.PhysicalDevice, gpuCount)
	ret = vk.EnumeratePhysicalDevices(d.instance, &gpuCount, gpus)
	if err := NewError(ret); err != nil {
		return err
	}

	infos := make([]PhysicalDeviceInfo, len(gpus))
	for i, gpu := range gpus {
		infos[i] = gatherPhysicalDeviceInfo(i, gpu, d.surface)
	}
	deviceIndex, familyIndex, err := pickPhysicalDevice(infos)
	if err != nil {
		return err
	}

	d.gpu = gpus[deviceIndex]
	d.gpuInfo = infos[deviceIndex]
	d.graphicsQueueFamilyIndex = familyIndex
	vk.GetPhysicalDeviceProperties(d.gpu, &d.gpuProperties)
	d.gpuProperties.Deref()
	vk.GetPhysicalDeviceMemoryProperties(d.gpu, &d.memoryProperties)
	d.memoryProperties.Deref()
	for i := range d.memoryProperties.MemoryTypes {
		d.memoryProperties.MemoryTypes[i].Deref()
	}
	for i := range d.memoryProperties.MemoryHeaps {
		d.memoryProperties.MemoryHeaps[i].Deref()
	}

	slogger().Info("vulkan: physical device selected",
		"name", d.gpuInfo.Name,
		"type", d.gpuInfo.Type,
		"queueFamily", familyIndex,
		"deviceLocalBytes", uint64(d.gpuInfo.DeviceLocalBytes))
	return nil
}

// gatherPhysicalDeviceInfo snapshots the properties selection cares about.
func gatherPhysicalDeviceInfo(index int, gpu vk.PhysicalDevice, surface vk.Surface) PhysicalDeviceInfo {
	var props vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(gpu, &props)
	props.Deref()

	var memProps vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(gpu, &memProps)
	memProps.Deref()
	var deviceLocal vk.DeviceSize
	for i := uint32(0); i < memProps.MemoryHeapCount; i++ {
		memProps.MemoryHeaps[i].Deref()
		heap := memProps.MemoryHeaps[i]
		if heap.Flags&vk.MemoryHeapFlags(vk.MemoryHeapDeviceLocalBit) != 0 && heap.Size > deviceLocal {
			deviceLocal = heap.Size
		}
	}

	var familyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &familyCount, nil)
	familyProps := make([]vk.QueueFamilyProperties, familyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &familyCount, familyProps)
	families := make([]QueueFamilyInfo, familyCount)
	for i := uint32(0); i < familyCount; i++ {
		familyProps[i].Deref()
		var canPresent vk.Bool32
		if surface != vk.NullSurface {
			vk.GetPhysicalDeviceSurfaceSupport(gpu, i, surface, &canPresent)
		} else {
			// Headless bring-up: every family counts as presentable.
			canPresent = vk.True
		}
		families[i] = QueueFamilyInfo{
			Flags:      familyProps[i].QueueFlags,
			Count:      familyProps[i].QueueCount,
			CanPresent: canPresent.B(),
		}
	}

	extensions, _ := DeviceExtensions(gpu)
	return PhysicalDeviceInfo{
		Index:            index,
		Name:             vk.ToString(props.DeviceName[:]),
		Type:             props.DeviceType,
		DeviceLocalBytes: deviceLocal,
		QueueFamilies:    families,
		Extensions:       extensions,
	}
}

// CreateLogicalDevice creates the logical device and its single graphics
// queue, enabling the optional debug and maintenance extensions that the
// selected device exposes. Their presence is recorded as capability flags.
func (d *DeviceContext) CreateLogicalDevice() error {
	available := d.gpuInfo.Extensions

	d.debugMarkersSupported = hasExtension(available, extDebugMarker)
	d.debugUtilsSupported = hasExtension(available, extDebugUtils)
	d.portabilitySubsetSupported = hasExtension(available, extPortabilitySubset)
	d.maintenanceSupported[0] = hasExtension(available, extMaintenance1)
	d.maintenanceSupported[1] = hasExtension(available, extMaintenance2)
	d.maintenanceSupported[2] = hasExtension(available, extMaintenance3)

	var enabled []string
	for _, ext := range []string{
		extDebugMarker, extPortabilitySubset,
		extMaintenance1, extMaintenance2, extMaintenance3,
	} {
		if hasExtension(available, ext) {
			enabled = append(enabled, ext)
		}
	}
	enabled = safeStrings(enabled)

	queueInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: d.graphicsQueueFamilyIndex,
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}}

	var device vk.Device
	ret := vk.CreateDevice(d.gpu, &vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(enabled)),
		PpEnabledExtensionNames: enabled,
	}, nil, &device)
	if err := NewError(ret); err != nil {
		return err
	}
	d.device = device

	var queue vk.Queue
	vk.GetDeviceQueue(d.device, d.graphicsQueueFamilyIndex, 0, &queue)
	d.graphicsQueue = queue

	slogger().Info("vulkan: logical device created",
		"extensions", len(enabled),
		"debugMarkers", d.debugMarkersSupported,
		"portabilitySubset", d.portabilitySubsetSupported)
	return nil
}

// SelectMemoryType returns the index of the first memory type whose property
// flags are a superset of flags and whose bit is set in requirementBits.
// Failure is fatal: a capability mismatch cannot be retried.
func (d *DeviceContext) SelectMemoryType(flags vk.MemoryPropertyFlags, requirementBits uint32) (uint32, error) {
	return selectMemoryType(d.memoryProperties, flags, requirementBits)
}

// FindSupportedFormat iterates candidates in the caller's priority order and
// returns the first format whose support for the given tiling is a superset
// of features.
func (d *DeviceContext) FindSupportedFormat(candidates []vk.Format,
	tiling vk.ImageTiling, features vk.FormatFeatureFlags) (vk.Format, error) {

	return findSupportedFormat(func(format vk.Format) vk.FormatProperties {
		var props vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(d.gpu, format, &props)
		props.Deref()
		return props
	}, candidates, tiling, features)
}

// Device returns the logical device handle.
func (d *DeviceContext) Device() vk.Device { return d.device }

// PhysicalDevice returns the selected physical device handle.
func (d *DeviceContext) PhysicalDevice() vk.PhysicalDevice { return d.gpu }

// Queue returns the graphics queue.
func (d *DeviceContext) Queue() vk.Queue { return d.graphicsQueue }

// QueueFamilyIndex returns the graphics queue family index.
func (d *DeviceContext) QueueFamilyIndex() uint32 { return d.graphicsQueueFamilyIndex }

// Info returns the descriptor of the selected physical device.
func (d *DeviceContext) Info() PhysicalDeviceInfo { return d.gpuInfo }

// MemoryProperties returns the memory properties of the selected device.
func (d *DeviceContext) MemoryProperties() vk.PhysicalDeviceMemoryProperties {
	return d.memoryProperties
}

// SupportsDebugMarkers reports VK_EXT_debug_marker availability.
func (d *DeviceContext) SupportsDebugMarkers() bool { return d.debugMarkersSupported }

// SupportsDebugUtils reports VK_EXT_debug_utils availability.
func (d *DeviceContext) SupportsDebugUtils() bool { return d.debugUtilsSupported }

// SupportsPortabilitySubset reports VK_KHR_portability_subset availability.
func (d *DeviceContext) SupportsPortabilitySubset() bool { return d.portabilitySubsetSupported }

// SupportsMaintenance reports VK_KHR_maintenance1/2/3 availability for n in [1,3].
func (d *DeviceContext) SupportsMaintenance(n int) bool {
	if n < 1 || n > len(d.maintenanceSupported) {
		return false
	}
	return d.maintenanceSupported[n-1]
}

// Destroy waits for the device to go idle and destroys it.
func (d *DeviceContext) Destroy() {
	if d.device != nil {
		vk.DeviceWaitIdle(d.device)
		vk.DestroyDevice(d.device, nil)
		d.device = nil
	}
}
