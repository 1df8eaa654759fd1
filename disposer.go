package filament

// Disposable is a GPU-backed resource whose destruction must wait until the
// device can no longer reference it. Dispose is invoked exactly once, from
// the recording thread, after the stamping submission has retired.
type Disposable interface {
	Dispose()
}

// DisposeFunc adapts a function to the Disposable interface.
type DisposeFunc func()

// Dispose calls f.
func (f DisposeFunc) Dispose() { f() }

type disposalEntry struct {
	resource Disposable
	epoch    Epoch
}

// ResourceDisposer defers destruction of GPU objects until the submission
// that may reference them has retired. Each resource moves through
// Live -> PendingDisposal -> Disposed: Enqueue performs the first transition
// and stamps the entry with the epoch of the submission currently being
// recorded; Poll performs the second for every entry whose epoch has
// retired.
//
// The disposer is used from the single recording thread only.
type ResourceDisposer struct {
	epochOf func() Epoch
	pending []disposalEntry
}

// NewResourceDisposer returns a disposer stamping entries with the stream's
// current recording epoch.
func NewResourceDisposer(stream *CommandStream) *ResourceDisposer {
	return newResourceDisposer(stream.CurrentEpoch)
}

func newResourceDisposer(epochOf func() Epoch) *ResourceDisposer {
	return &ResourceDisposer{epochOf: epochOf}
}

// Enqueue transitions the resource from Live to PendingDisposal, stamping it
// with the current recording epoch. The resource must no longer be used by
// newly recorded commands after this call.
func (d *ResourceDisposer) Enqueue(resource Disposable) {
	if resource == nil {
		return
	}
	d.pending = append(d.pending, disposalEntry{
		resource: resource,
		epoch:    d.epochOf(),
	})
}

// Poll destroys every pending resource whose stamped epoch is at or below
// retiredEpoch, transitioning it to Disposed. Callers must only pass epochs
// the device has confirmed retired; under that contract disposal never races
// a live GPU read. Returns the number of resources destroyed.
func (d *ResourceDisposer) Poll(retiredEpoch Epoch) int {
	destroyed := 0
	kept := d.pending[:0]
	for _, entry := range d.pending {
		if entry.epoch <= retiredEpoch {
			entry.resource.Dispose()
			destroyed++
			continue
		}
		kept = append(kept, entry)
	}
	// Drop references so Disposed resources can be collected.
	for i := len(kept); i < len(d.pending); i++ {
		d.pending[i] = disposalEntry{}
	}
	d.pending = kept
	if destroyed > 0 {
		slogger().Debug("vulkan: disposed retired resources",
			"count", destroyed, "retiredEpoch", uint64(retiredEpoch))
	}
	return destroyed
}

// Drain destroys every pending resource regardless of epoch. Only valid
// after the device has been waited idle, during shutdown.
func (d *ResourceDisposer) Drain() int {
	destroyed := len(d.pending)
	for i, entry := range d.pending {
		entry.resource.Dispose()
		d.pending[i] = disposalEntry{}
	}
	d.pending = d.pending[:0]
	return destroyed
}

// Pending returns the number of resources awaiting disposal.
func (d *ResourceDisposer) Pending() int { return len(d.pending) }
