package filament

import "testing"

type countedResource struct {
	disposed int
}

func (r *countedResource) Dispose() { r.disposed++ }

func TestDisposerHoldsUntilEpochRetires(t *testing.T) {
	current := Epoch(5)
	d := newResourceDisposer(func() Epoch { return current })

	res := &countedResource{}
	d.Enqueue(res)

	if n := d.Poll(4); n != 0 || res.disposed != 0 {
		t.Fatalf("Poll(4) destroyed %d (resource %d times), want none", n, res.disposed)
	}
	if n := d.Poll(5); n != 1 || res.disposed != 1 {
		t.Fatalf("Poll(5) destroyed %d (resource %d times), want 1 once", n, res.disposed)
	}
	if n := d.Poll(6); n != 0 || res.disposed != 1 {
		t.Fatalf("Poll(6) after disposal destroyed %d (resource %d times)", n, res.disposed)
	}
}

func TestDisposerStampsEnqueueEpoch(t *testing.T) {
	current := Epoch(1)
	d := newResourceDisposer(func() Epoch { return current })

	early := &countedResource{}
	d.Enqueue(early)

	current = 3
	late := &countedResource{}
	d.Enqueue(late)

	if n := d.Poll(2); n != 1 {
		t.Fatalf("Poll(2) destroyed %d, want only the early resource", n)
	}
	if early.disposed != 1 || late.disposed != 0 {
		t.Fatalf("early disposed %d, late disposed %d; want 1, 0", early.disposed, late.disposed)
	}
	if d.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", d.Pending())
	}

	if n := d.Poll(3); n != 1 || late.disposed != 1 {
		t.Fatalf("Poll(3) destroyed %d, late disposed %d", n, late.disposed)
	}
}

func TestDisposerDrain(t *testing.T) {
	d := newResourceDisposer(func() Epoch { return 10 })

	resources := make([]*countedResource, 3)
	for i := range resources {
		resources[i] = &countedResource{}
		d.Enqueue(resources[i])
	}

	if n := d.Drain(); n != 3 {
		t.Fatalf("Drain() = %d, want 3", n)
	}
	for i, res := range resources {
		if res.disposed != 1 {
			t.Fatalf("resource %d disposed %d times", i, res.disposed)
		}
	}
	if d.Pending() != 0 {
		t.Fatalf("Pending() after Drain = %d", d.Pending())
	}
}

func TestDisposerIgnoresNil(t *testing.T) {
	d := newResourceDisposer(func() Epoch { return 1 })
	d.Enqueue(nil)
	if d.Pending() != 0 {
		t.Fatalf("Pending() after nil enqueue = %d", d.Pending())
	}
}

func TestDisposeFuncAdapter(t *testing.T) {
	d := newResourceDisposer(func() Epoch { return 1 })

	calls := 0
	d.Enqueue(DisposeFunc(func() { calls++ }))
	d.Poll(1)
	if calls != 1 {
		t.Fatalf("DisposeFunc called %d times, want 1", calls)
	}
}
