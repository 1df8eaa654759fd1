package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"runtime"

	"github.com/e-dant/filament"
	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/vulkan-go/vulkan"
	"github.com/xlab/closer"
)

func init() {
	runtime.LockOSThread()
}

var (
	headless   = flag.Bool("headless", false, "select a device without a presentation surface")
	validation = flag.Bool("validation", false, "enable the validation layer when installed")
	verbose    = flag.Bool("v", false, "debug logging")
)

func main() {
	flag.Parse()
	if *verbose {
		filament.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}
	defer closer.Close()

	orPanic(glfw.Init())
	closer.Bind(glfw.Terminate)
	vk.SetGetInstanceProcAddr(glfw.GetVulkanGetInstanceProcAddress())
	orPanic(vk.Init())

	config := filament.ContextConfig{
		AppName:          "vkinfo",
		EnableValidation: *validation,
		TimestampSlots:   64,
	}

	if !*headless {
		glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
		glfw.WindowHint(glfw.Visible, glfw.False)
		window, err := glfw.CreateWindow(64, 64, "vkinfo", nil, nil)
		orPanic(err)
		closer.Bind(window.Destroy)

		instance, err := filament.NewInstance(filament.ContextConfig{
			AppName:          "vkinfo",
			EnableValidation: *validation,
		})
		orPanic(err)
		closer.Bind(func() { vk.DestroyInstance(instance, nil) })

		surfacePtr, err := window.CreateWindowSurface(instance, nil)
		orPanic(err)
		surface := vk.SurfaceFromPointer(surfacePtr)
		closer.Bind(func() { vk.DestroySurface(instance, surface, nil) })

		config.Instance = instance
		config.Surface = surface
	}

	ctx, err := filament.NewContext(config)
	orPanic(err)
	closer.Bind(ctx.Destroy)

	report(ctx)
}

func report(ctx *filament.Context) {
	info := ctx.Device().Info()
	fmt.Printf("device:        %s\n", info.Name)
	fmt.Printf("type:          %d\n", info.Type)
	fmt.Printf("local memory:  %d MiB\n", info.DeviceLocalBytes/(1<<20))
	fmt.Printf("queue family:  %d\n", ctx.Device().QueueFamilyIndex())
	fmt.Printf("depth format:  %d\n", ctx.FinalDepthFormat())
	fmt.Printf("debug markers: %v\n", ctx.Device().SupportsDebugMarkers())
	fmt.Printf("debug utils:   %v\n", ctx.Device().SupportsDebugUtils())
	fmt.Printf("portability:   %v\n", ctx.Device().SupportsPortabilitySubset())
	for n := 1; n <= 3; n++ {
		fmt.Printf("maintenance%d:  %v\n", n, ctx.Device().SupportsMaintenance(n))
	}

	stats := ctx.Allocator().Stats(filament.PoolGPU)
	fmt.Printf("gpu pool:      %d blocks, %d bytes used\n", stats.BlockCount, stats.UsedBytes)
}

func orPanic(err error) {
	if err != nil {
		log.Panicln(err)
	}
}
