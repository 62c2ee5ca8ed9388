package fiber

import "sync"

// point is the opaque saved execution point behind a fiber: a goroutine
// parked on an unbuffered handoff channel. Control is transferred by waking
// the target and parking the caller; a point never runs unless a switch
// landed on it.
type point struct {
	resume   chan struct{}
	dead     chan struct{}
	killOnce sync.Once
}

func newPoint() *point {
	return &point{resume: make(chan struct{}), dead: make(chan struct{})}
}

// start launches the goroutine backing a fiber. The goroutine stays parked
// until the first switch lands on it, then runs entry exactly once.
func (p *point) start(entry func()) {
	go func() {
		if !p.park() {
			return
		}
		entry()
	}()
}

// wake hands control to p. It reports false when p was torn down rather than
// woken.
func (p *point) wake() bool {
	select {
	case p.resume <- struct{}{}:
		return true
	case <-p.dead:
		return false
	}
}

// park suspends the caller until the next switch lands here. It reports
// false when the point was torn down while parked.
func (p *point) park() bool {
	select {
	case <-p.resume:
		return true
	case <-p.dead:
		return false
	}
}

// kill tears the point down, releasing any parked goroutine. Idempotent.
func (p *point) kill() {
	p.killOnce.Do(func() { close(p.dead) })
}
