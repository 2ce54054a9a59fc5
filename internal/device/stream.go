package device

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// LaunchQueueDepth bounds the number of launches in flight on a stream.
// Launching into a full queue blocks the host.
const LaunchQueueDepth = 1024

var (
	// ErrNotRecorded is returned when timing an event that was never recorded.
	ErrNotRecorded = errors.New("event not recorded")
	// ErrNotReady is returned when timing an event the stream has not reached yet.
	ErrNotReady = errors.New("event not ready")
	// ErrRecorded is returned when recording an event a second time.
	ErrRecorded = errors.New("event already recorded")
	// ErrStreamClosed is returned for work submitted after Close.
	ErrStreamClosed = errors.New("stream closed")
	// ErrLaunchPanic wraps a panic raised by launched work.
	ErrLaunchPanic = errors.New("launch panicked")
)

// Event is a timestamp taken by the stream when its queue reaches the marker.
type Event struct {
	mu       sync.Mutex
	recorded bool
	reached  chan struct{}
	at       time.Time
}

// NewEvent returns an unrecorded event.
func NewEvent() *Event {
	return &Event{reached: make(chan struct{})}
}

func (e *Event) mark() {
	e.at = time.Now()
	close(e.reached)
}

// Synchronize blocks until the stream has reached the event.
func (e *Event) Synchronize() error {
	e.mu.Lock()
	recorded := e.recorded
	e.mu.Unlock()
	if !recorded {
		return ErrNotRecorded
	}
	<-e.reached
	return nil
}

// Query reports whether the stream has reached the event.
func (e *Event) Query() bool {
	select {
	case <-e.reached:
		return true
	default:
		return false
	}
}

// ElapsedTime returns the milliseconds between e and end. Both events must
// have been reached; it never blocks.
func (e *Event) ElapsedTime(end *Event) (float64, error) {
	for _, ev := range []*Event{e, end} {
		ev.mu.Lock()
		recorded := ev.recorded
		ev.mu.Unlock()
		if !recorded {
			return 0, ErrNotRecorded
		}
		if !ev.Query() {
			return 0, ErrNotReady
		}
	}
	return float64(end.at.Sub(e.at)) / float64(time.Millisecond), nil
}

type command struct {
	run   func() error
	event *Event
}

// Stream is an in-order work queue on a device. On the CPU work runs inline;
// on an accelerator a worker goroutine drains the queue asynchronously.
//
// The first launch error is sticky: later launches are skipped and the error
// is returned unchanged from Synchronize. A Stream is driven by a single
// host goroutine.
type Stream struct {
	dev    Device
	queue  chan command
	done   chan struct{}
	mu     sync.Mutex
	err    error
	closed bool
}

// NewStream opens a stream on d.
func NewStream(d Device) *Stream {
	s := &Stream{dev: d}
	if d.Kind == Accelerator {
		s.queue = make(chan command, LaunchQueueDepth)
		s.done = make(chan struct{})
		go s.work()
	}
	return s
}

// Device returns the device the stream runs on.
func (s *Stream) Device() Device { return s.dev }

func (s *Stream) work() {
	defer close(s.done)
	for cmd := range s.queue {
		s.exec(cmd)
	}
}

func (s *Stream) exec(cmd command) {
	if cmd.event != nil {
		cmd.event.mark()
		return
	}
	if s.Err() != nil {
		return
	}
	if err := s.call(cmd.run); err != nil {
		s.mu.Lock()
		if s.err == nil {
			s.err = err
		}
		s.mu.Unlock()
	}
}

// call runs fn and reports a panic as an ErrLaunchPanic error.
func (s *Stream) call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrLaunchPanic, r)
		}
	}()
	return fn()
}

func (s *Stream) submit(cmd command) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrStreamClosed
	}
	if s.queue == nil {
		s.exec(cmd)
		return nil
	}
	s.queue <- cmd
	return nil
}

// Launch enqueues fn. It returns before fn runs on an accelerator.
func (s *Stream) Launch(fn func() error) error {
	return s.submit(command{run: fn})
}

// Record enqueues e as a timestamp marker.
func (s *Stream) Record(e *Event) error {
	e.mu.Lock()
	if e.recorded {
		e.mu.Unlock()
		return ErrRecorded
	}
	e.recorded = true
	e.mu.Unlock()
	return s.submit(command{event: e})
}

// Err returns the sticky launch error, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Synchronize blocks until all queued work has completed and returns the
// sticky launch error.
func (s *Stream) Synchronize() error {
	ev := NewEvent()
	if err := s.Record(ev); err != nil {
		return err
	}
	if err := ev.Synchronize(); err != nil {
		return err
	}
	return s.Err()
}

// Close drains the queue and stops the worker.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	if s.queue != nil {
		close(s.queue)
		<-s.done
	}
	return s.Err()
}
