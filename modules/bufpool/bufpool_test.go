package bufpool

import (
	"errors"
	"math/rand"
	"testing"
)

// TestNewValidates verifies fail-fast validation of pool dimensions.
func TestNewValidates(t *testing.T) {
	tests := []struct {
		name     string
		count    int
		capacity int
		wantErr  bool
	}{
		{"valid", 4, 188, false},
		{"zero count", 0, 188, true},
		{"negative capacity", 4, -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.count, tt.capacity)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidSize) {
					t.Fatalf("New() error = %v, want ErrInvalidSize", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() failed: %v", err)
			}
			if p.Free() != tt.count {
				t.Errorf("Free() = %d, want %d", p.Free(), tt.count)
			}
		})
	}
}

// TestAcquireExhaustion verifies excess acquires report unavailable.
func TestAcquireExhaustion(t *testing.T) {
	const count = 8
	p, err := New(count, 16)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	for i := 0; i < count; i++ {
		if _, ok := p.Acquire(); !ok {
			t.Fatalf("Acquire() #%d failed before exhaustion", i)
		}
	}
	for i := 0; i < 3; i++ {
		if b, ok := p.Acquire(); ok || b != nil {
			t.Fatalf("excess Acquire() returned a buffer")
		}
	}
	if !p.Exhausted() {
		t.Error("Exhausted() = false after acquiring all buffers")
	}

	t.Logf("✅ %d acquires succeeded, excess returned none", count)
}

// TestReleaseFIFO verifies released buffers are reset and recycled oldest-freed-first.
func TestReleaseFIFO(t *testing.T) {
	p, _ := New(3, 16)

	a, _ := p.Acquire()
	b, _ := p.Acquire()
	c, _ := p.Acquire()

	a.Fill([]byte("hello"))
	a.Offset = 2

	p.Release(b)
	p.Release(a)
	p.Release(c)

	if a.Len != 0 || a.Offset != 0 {
		t.Errorf("released buffer not reset: Len=%d Offset=%d", a.Len, a.Offset)
	}

	want := []int{b.ID, a.ID, c.ID}
	for i, id := range want {
		got, ok := p.Acquire()
		if !ok {
			t.Fatalf("Acquire() #%d failed", i)
		}
		if got.ID != id {
			t.Errorf("Acquire() #%d = buffer %d, want %d", i, got.ID, id)
		}
	}
}

// TestFillRejectsOversize verifies a buffer never grows.
func TestFillRejectsOversize(t *testing.T) {
	p, _ := New(1, 4)
	b, _ := p.Acquire()

	if b.Fill([]byte("toolong")) {
		t.Fatal("Fill() accepted data larger than capacity")
	}
	if b.Cap() != 4 {
		t.Errorf("Cap() = %d, want 4", b.Cap())
	}
	if !b.Fill([]byte("abcd")) || string(b.Data()) != "abcd" {
		t.Errorf("Fill() of exact capacity failed, Data()=%q", b.Data())
	}
}

// TestQueueOrderAndRelease verifies queues drain in push order and Release detaches.
func TestQueueOrderAndRelease(t *testing.T) {
	p, _ := New(4, 8)
	q := p.NewQueue()

	var ids []int
	for i := 0; i < 4; i++ {
		b, _ := p.Acquire()
		q.PushBack(b)
		ids = append(ids, b.ID)
	}

	front, _ := q.Front()
	p.Release(front)
	if q.Len() != 3 {
		t.Errorf("queue Len() = %d after releasing front, want 3", q.Len())
	}

	for _, id := range ids[1:] {
		b, ok := q.PopFront()
		if !ok || b.ID != id {
			t.Fatalf("PopFront() = %v, want buffer %d", b, id)
		}
		p.Release(b)
	}
	if p.Free() != 4 {
		t.Errorf("Free() = %d, want 4", p.Free())
	}
}

// TestDrain verifies Drain returns every queued buffer.
func TestDrain(t *testing.T) {
	p, _ := New(5, 8)
	q := p.NewQueue()
	for i := 0; i < 3; i++ {
		b, _ := p.Acquire()
		q.PushBack(b)
	}

	if n := q.Drain(); n != 3 {
		t.Errorf("Drain() = %d, want 3", n)
	}
	if !q.Empty() || p.Free() != 5 {
		t.Errorf("after Drain: queue empty=%v free=%d", q.Empty(), p.Free())
	}
}

// TestForeignBufferPanics verifies buffers cannot cross pools.
func TestForeignBufferPanics(t *testing.T) {
	p1, _ := New(1, 8)
	p2, _ := New(1, 8)
	b, _ := p1.Acquire()

	defer func() {
		if recover() == nil {
			t.Fatal("Release of a foreign buffer did not panic")
		}
	}()
	p2.Release(b)
}

// TestConservation checks free + all in-use queues + claimed == Count over
// random acquire/queue/release sequences.
func TestConservation(t *testing.T) {
	const count = 32
	rng := rand.New(rand.NewSource(7))
	p, _ := New(count, 188)
	queues := []*Queue{p.NewQueue(), p.NewQueue(), p.NewQueue()}
	var claimed []*Buffer

	for step := 0; step < 5000; step++ {
		switch rng.Intn(4) {
		case 0:
			if b, ok := p.Acquire(); ok {
				claimed = append(claimed, b)
			}
		case 1:
			if len(claimed) > 0 {
				b := claimed[len(claimed)-1]
				claimed = claimed[:len(claimed)-1]
				queues[rng.Intn(len(queues))].PushBack(b)
			}
		case 2:
			q := queues[rng.Intn(len(queues))]
			if b, ok := q.PopFront(); ok {
				p.Release(b)
			}
		case 3:
			if len(claimed) > 0 {
				p.Release(claimed[0])
				claimed = claimed[1:]
			}
		}

		total := p.Free() + len(claimed)
		for _, q := range queues {
			total += q.Len()
		}
		if total != count {
			t.Fatalf("step %d: free+queued+claimed = %d, want %d", step, total, count)
		}
	}

	t.Logf("✅ conservation held over 5000 random steps")
}
