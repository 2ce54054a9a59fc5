package device

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func accel() Device { return Device{Kind: Accelerator, Name: "test", Units: 2} }

func TestStreamRunsInOrder(t *testing.T) {
	for _, d := range []Device{HostCPU(), accel()} {
		s := NewStream(d)
		var got []int
		for i := 0; i < 50; i++ {
			i := i
			if err := s.Launch(func() error { got = append(got, i); return nil }); err != nil {
				t.Fatalf("launch: %v", err)
			}
		}
		if err := s.Synchronize(); err != nil {
			t.Fatalf("sync: %v", err)
		}
		for i, v := range got {
			if v != i {
				t.Fatalf("%s: out of order at %d: %v", d, i, got)
			}
		}
		if len(got) != 50 {
			t.Fatalf("%s: ran %d of 50", d, len(got))
		}
		if err := s.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
}

func TestStreamLaunchIsAsyncOnAccelerator(t *testing.T) {
	s := NewStream(accel())
	defer s.Close()
	release := make(chan struct{})
	var ran atomic.Bool
	if err := s.Launch(func() error { <-release; ran.Store(true); return nil }); err != nil {
		t.Fatalf("launch: %v", err)
	}
	if ran.Load() {
		t.Fatalf("launch should not block on the work")
	}
	close(release)
	if err := s.Synchronize(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !ran.Load() {
		t.Fatalf("work did not run before synchronize returned")
	}
}

func TestStreamStickyError(t *testing.T) {
	boom := errors.New("boom")
	s := NewStream(accel())
	defer s.Close()
	var after atomic.Int32
	_ = s.Launch(func() error { return boom })
	_ = s.Launch(func() error { after.Add(1); return nil })
	if err := s.Synchronize(); err != boom {
		t.Fatalf("expected the launch error unchanged, got %v", err)
	}
	if after.Load() != 0 {
		t.Fatalf("launches after an error must be skipped")
	}
}

func TestStreamPanicBecomesStickyError(t *testing.T) {
	for _, d := range []Device{HostCPU(), accel()} {
		t.Run(d.String(), func(t *testing.T) {
			s := NewStream(d)
			defer s.Close()
			var after atomic.Int32
			if err := s.Launch(func() error {
				var xs []float32
				_ = xs[1]
				return nil
			}); err != nil {
				t.Fatalf("launch: %v", err)
			}
			_ = s.Launch(func() error { after.Add(1); return nil })
			if err := s.Synchronize(); !errors.Is(err, ErrLaunchPanic) {
				t.Fatalf("expected ErrLaunchPanic, got %v", err)
			}
			if after.Load() != 0 {
				t.Fatalf("launches after a panic must be skipped")
			}
		})
	}
}

func TestEventElapsedTime(t *testing.T) {
	s := NewStream(accel())
	defer s.Close()
	tic, toc := NewEvent(), NewEvent()
	if err := s.Record(tic); err != nil {
		t.Fatalf("record: %v", err)
	}
	for i := 0; i < 5; i++ {
		_ = s.Launch(func() error { time.Sleep(2 * time.Millisecond); return nil })
	}
	if err := s.Record(toc); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := toc.Synchronize(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	ms, err := tic.ElapsedTime(toc)
	if err != nil {
		t.Fatalf("elapsed: %v", err)
	}
	if ms < 10 || ms > 1000 {
		t.Fatalf("elapsed %.3fms outside expected range", ms)
	}
}

func TestEventErrors(t *testing.T) {
	a, b := NewEvent(), NewEvent()
	if _, err := a.ElapsedTime(b); !errors.Is(err, ErrNotRecorded) {
		t.Fatalf("expected ErrNotRecorded, got %v", err)
	}
	if err := a.Synchronize(); !errors.Is(err, ErrNotRecorded) {
		t.Fatalf("expected ErrNotRecorded, got %v", err)
	}

	s := NewStream(accel())
	defer s.Close()
	release := make(chan struct{})
	_ = s.Record(a)
	_ = s.Launch(func() error { <-release; return nil })
	_ = s.Record(b)
	if _, err := a.ElapsedTime(b); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady before the barrier, got %v", err)
	}
	close(release)
	if err := b.Synchronize(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if ms, err := a.ElapsedTime(b); err != nil || ms < 0 {
		t.Fatalf("elapsed after barrier: %v %v", ms, err)
	}
	if err := s.Record(a); !errors.Is(err, ErrRecorded) {
		t.Fatalf("expected ErrRecorded, got %v", err)
	}
}

func TestStreamClosed(t *testing.T) {
	s := NewStream(accel())
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Launch(func() error { return nil }); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}
}
