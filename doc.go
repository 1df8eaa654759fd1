// Package filament implements the Vulkan backend context of the filament
// rendering engine: device selection and bring-up, memory pooling, render
// pass and pipeline caching, and epoch-based deferred destruction of GPU
// objects.
//
// The package owns everything between the raw Vulkan API and the engine's
// renderer. A Context is created once at startup and destroyed once at
// shutdown; it composes the subsystems and hands out cached hardware
// objects:
//
//	ctx, err := filament.NewContext(filament.ContextConfig{
//		AppName: "viewer",
//		Surface: surface,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer ctx.Destroy()
//
//	pass, err := ctx.AcquireRenderPass(params)
//	pipeline, err := ctx.AcquirePipeline(raster, program)
//
// # Lifetimes
//
// Command buffer submissions are stamped with a monotonically increasing
// Epoch. Resources are never destroyed synchronously: they are handed to the
// ResourceDisposer, which destroys them only once the CommandStream confirms
// that the submission which may reference them has retired on the device.
// Call Context.CollectGarbage at frame boundaries to advance this machinery.
//
// # Threading
//
// Recording is single-threaded: the caches and the allocator are accessed
// from the one recording goroutine and take no locks. The only exception is
// the TimestampQueryPool, which may be hit from multiple recording contexts
// and guards its slot bitset with a mutex.
package filament
