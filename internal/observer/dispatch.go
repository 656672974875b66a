package observer

import "sync"

// dispatcher runs transitions one at a time, in order, off the receive loop.
// The queue is unbounded so an edge is never lost while a command runs.
type dispatcher struct {
	run func(Transition)

	mu      sync.Mutex
	pending []Transition
	closed  bool
	wake    chan struct{}
	wg      sync.WaitGroup
}

func newDispatcher(run func(Transition)) *dispatcher {
	d := &dispatcher{
		run:  run,
		wake: make(chan struct{}, 1),
	}
	d.wg.Add(1)
	go d.loop()
	return d
}

func (d *dispatcher) enqueue(t Transition) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.pending = append(d.pending, t)
	d.mu.Unlock()
	d.signal()
}

func (d *dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) loop() {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(d.pending) == 0 {
			closed := d.closed
			d.mu.Unlock()
			if closed {
				return
			}
			<-d.wake
			continue
		}
		t := d.pending[0]
		d.pending = d.pending[1:]
		d.mu.Unlock()

		d.run(t)
	}
}

// stop drops queued transitions, waits for the running one and returns how
// many were dropped.
func (d *dispatcher) stop() int {
	d.mu.Lock()
	d.closed = true
	dropped := len(d.pending)
	d.pending = nil
	d.mu.Unlock()
	d.signal()
	d.wg.Wait()
	return dropped
}
