package filament

import (
	"testing"

	vk "github.com/vulkan-go/vulkan"
)

// fakeQueue simulates device-side completion. Tokens complete only when the
// test says so.
type fakeQueue struct {
	next      submitToken
	done      map[submitToken]bool
	released  []submitToken
	waits     int
	idleCalls int
	destroyed bool
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{done: make(map[submitToken]bool)}
}

func (f *fakeQueue) submit(cmd vk.CommandBuffer) (submitToken, error) {
	f.next++
	f.done[f.next] = false
	return f.next, nil
}

func (f *fakeQueue) signaled(t submitToken) (bool, error) { return f.done[t], nil }

func (f *fakeQueue) wait(t submitToken) error {
	f.waits++
	f.done[t] = true
	return nil
}

func (f *fakeQueue) release(t submitToken) {
	f.released = append(f.released, t)
	delete(f.done, t)
}

func (f *fakeQueue) waitIdle() error {
	f.idleCalls++
	for t := range f.done {
		f.done[t] = true
	}
	return nil
}

func (f *fakeQueue) destroy() { f.destroyed = true }

// fakeSource hands out nil command buffers and counts resets so tests can
// observe recycling decisions without a device.
type fakeSource struct {
	begins    int
	resets    int
	destroyed bool
}

func (f *fakeSource) begin() (vk.CommandBuffer, error) {
	f.begins++
	return nil, nil
}

func (f *fakeSource) reset()   { f.resets++ }
func (f *fakeSource) destroy() { f.destroyed = true }

func TestEpochsIncreaseMonotonically(t *testing.T) {
	s := newCommandStream(newFakeQueue())

	if got := s.CurrentEpoch(); got != 1 {
		t.Fatalf("CurrentEpoch() before first submit = %d, want 1", got)
	}
	if got := s.RetiredEpoch(); got != 0 {
		t.Fatalf("RetiredEpoch() before first submit = %d, want 0", got)
	}

	for want := Epoch(1); want <= 3; want++ {
		epoch, err := s.Submit(nil)
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		if epoch != want {
			t.Fatalf("Submit() epoch = %d, want %d", epoch, want)
		}
		if got := s.CurrentEpoch(); got != want+1 {
			t.Fatalf("CurrentEpoch() after submit = %d, want %d", got, want+1)
		}
	}
}

func TestPollRetiresInOrder(t *testing.T) {
	q := newFakeQueue()
	s := newCommandStream(q)

	var tokens []submitToken
	for i := 0; i < 3; i++ {
		if _, err := s.Submit(nil); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		tokens = append(tokens, q.next)
	}

	// The middle submission completing first must not advance retirement.
	q.done[tokens[1]] = true
	retired, err := s.Poll()
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if retired != 0 {
		t.Fatalf("Poll() = %d with oldest still pending, want 0", retired)
	}

	q.done[tokens[0]] = true
	retired, err = s.Poll()
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if retired != 2 {
		t.Fatalf("Poll() = %d, want 2 after first two complete", retired)
	}

	q.done[tokens[2]] = true
	retired, _ = s.Poll()
	if retired != 3 {
		t.Fatalf("Poll() = %d, want 3", retired)
	}
	if len(q.released) != 3 {
		t.Fatalf("released %d fences, want 3", len(q.released))
	}
}

func TestWaitEpochBlocksUntilRetired(t *testing.T) {
	q := newFakeQueue()
	s := newCommandStream(q)

	for i := 0; i < 3; i++ {
		if _, err := s.Submit(nil); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}

	if err := s.WaitEpoch(2); err != nil {
		t.Fatalf("WaitEpoch() error = %v", err)
	}
	if got := s.RetiredEpoch(); got < 2 {
		t.Fatalf("RetiredEpoch() after WaitEpoch(2) = %d, want >= 2", got)
	}
	if got := s.RetiredEpoch(); got != 2 {
		t.Fatalf("WaitEpoch(2) over-waited to %d", got)
	}
}

func TestWaitEpochNeverSubmitted(t *testing.T) {
	q := newFakeQueue()
	s := newCommandStream(q)
	if _, err := s.Submit(nil); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := s.WaitEpoch(5); err == nil {
		t.Fatal("WaitEpoch() for unsubmitted epoch should fail")
	}
	// The error is reported without draining the fences still in flight.
	if q.waits != 0 {
		t.Fatalf("WaitEpoch() waited on %d fences for an unsubmitted epoch, want 0", q.waits)
	}
	if got := s.RetiredEpoch(); got != 0 {
		t.Fatalf("RetiredEpoch() after failed WaitEpoch = %d, want 0", got)
	}
}

func TestWaitEpochAlreadyRetired(t *testing.T) {
	q := newFakeQueue()
	s := newCommandStream(q)
	s.Submit(nil)
	q.done[1] = true
	s.Poll()

	if err := s.WaitEpoch(1); err != nil {
		t.Fatalf("WaitEpoch() on retired epoch error = %v", err)
	}
}

func TestWaitIdleRetiresEverything(t *testing.T) {
	q := newFakeQueue()
	s := newCommandStream(q)

	for i := 0; i < 4; i++ {
		s.Submit(nil)
	}
	if err := s.WaitIdle(); err != nil {
		t.Fatalf("WaitIdle() error = %v", err)
	}
	if got := s.RetiredEpoch(); got != 4 {
		t.Fatalf("RetiredEpoch() after WaitIdle = %d, want 4", got)
	}
	if q.idleCalls != 1 {
		t.Fatalf("queue idle calls = %d, want 1", q.idleCalls)
	}
	if len(q.released) != 4 {
		t.Fatalf("released %d fences, want 4", len(q.released))
	}
}

func TestDestroyTearsDownBacking(t *testing.T) {
	q := newFakeQueue()
	s := newCommandStream(q)
	s.Submit(nil)
	s.Destroy()

	if !q.destroyed {
		t.Fatal("Destroy() did not reach the backing")
	}
}

func TestDestroyTearsDownSource(t *testing.T) {
	src := &fakeSource{}
	s := newCommandStream(newFakeQueue())
	s.source = src
	s.Destroy()

	if !src.destroyed {
		t.Fatal("Destroy() did not reach the command source")
	}
}

func TestPollSkipsResetWhileRecording(t *testing.T) {
	q := newFakeQueue()
	src := &fakeSource{}
	s := newCommandStream(q)
	s.source = src

	cmd, err := s.Begin()
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	// Nothing is in flight, but the buffer handed out above is still being
	// recorded. Poll must not hand it back to the recycler.
	if _, err := s.Poll(); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if src.resets != 0 {
		t.Fatalf("Poll() reset the source %d times with a buffer outstanding, want 0", src.resets)
	}

	if _, err := s.Submit(cmd); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	q.done[q.next] = true
	if _, err := s.Poll(); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if src.resets != 1 {
		t.Fatalf("Poll() resets after the submission retired = %d, want 1", src.resets)
	}
}

func TestWaitIdleSkipsResetWhileRecording(t *testing.T) {
	q := newFakeQueue()
	src := &fakeSource{}
	s := newCommandStream(q)
	s.source = src

	if _, err := s.Begin(); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := s.WaitIdle(); err != nil {
		t.Fatalf("WaitIdle() error = %v", err)
	}
	if src.resets != 0 {
		t.Fatalf("WaitIdle() reset the source %d times with a buffer outstanding, want 0", src.resets)
	}
}

func TestBuildSubmitInfo(t *testing.T) {
	info := buildSubmitInfo(nil)
	if info.CommandBufferCount != 0 {
		t.Fatalf("nil cmd CommandBufferCount = %d, want 0", info.CommandBufferCount)
	}
	if info.PCommandBuffers != nil {
		t.Fatal("nil cmd PCommandBuffers should be nil")
	}
}
