package server

import (
	"sync"
	"time"
)

// The loop is the Go rendition of the readiness reactor: one goroutine
// owns every registry, draining a serialized queue of closures posted
// by connection readers and timers. Nothing outside this goroutine
// touches protocol state.
type loop struct {
	queue chan func()
	quit  chan struct{}
	done  chan struct{}

	wheelLock sync.Mutex
	wheel     []*Timer
	timerSeq  uint64

	// deferred teardown, drained after every batch; keyed so that a
	// socket marked dead twice is culled once
	cull map[interface{}]func()
}

func newLoop() *loop {
	return &loop{
		queue: make(chan func(), 64),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		cull:  make(map[interface{}]func()),
	}
}

// Post hands f to the loop goroutine. Safe from anywhere.
func (l *loop) Post(f func()) {
	select {
	case l.queue <- f:
	case <-l.quit:
	}
}

func (l *loop) run() {
	defer close(l.done)

	// the wheel advances on wall-clock-second boundaries
	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	for {
		select {
		case <-l.quit:
			return
		case f := <-l.queue:
			f()
			// drain whatever else arrived in this batch
		batch:
			for {
				select {
				case f := <-l.queue:
					f()
				default:
					break batch
				}
			}
			l.drainCull()
		case now := <-tick.C:
			l.advance(now.Unix())
			l.drainCull()
		}
	}
}

func (l *loop) stop() {
	close(l.quit)
	<-l.done
}

// Cull schedules teardown for key at the end of the current batch. A
// second cull under the same key before the drain is ignored, so a
// socket that errors on both read and write is closed exactly once.
func (l *loop) Cull(key interface{}, f func()) {
	if _, ok := l.cull[key]; ok {
		return
	}
	l.cull[key] = f
}

func (l *loop) drainCull() {
	if len(l.cull) == 0 {
		return
	}
	pending := l.cull
	l.cull = make(map[interface{}]func())
	for _, f := range pending {
		f()
	}
}

// Timer is a handle into the wheel. Cancellation is cooperative: a
// timer already firing this tick still completes.
type Timer struct {
	id        uint64
	at        int64
	interval  time.Duration
	fn        func()
	cancelled bool
}

func (t *Timer) Cancel() { t.cancelled = true }

// Schedule runs fn once on the loop after delay.
func (l *loop) Schedule(delay time.Duration, fn func()) *Timer {
	return l.add(delay, 0, fn)
}

// ScheduleRepeating runs fn every interval until cancelled.
func (l *loop) ScheduleRepeating(interval time.Duration, fn func()) *Timer {
	return l.add(interval, interval, fn)
}

func (l *loop) add(delay time.Duration, interval time.Duration, fn func()) *Timer {
	l.wheelLock.Lock()
	defer l.wheelLock.Unlock()
	l.timerSeq++
	t := &Timer{
		id:       l.timerSeq,
		at:       time.Now().Add(delay).Unix(),
		interval: interval,
		fn:       fn,
	}
	l.wheel = append(l.wheel, t)
	return t
}

// advance fires every due timer in insertion order. Timers scheduled
// while firing land after the snapshot and wait for the next tick.
func (l *loop) advance(now int64) {
	l.wheelLock.Lock()
	snapshot := l.wheel
	l.wheelLock.Unlock()

	var fired bool
	for _, t := range snapshot {
		if t.cancelled || t.at > now {
			continue
		}
		if t.interval > 0 {
			t.at = now + int64(t.interval/time.Second)
		} else {
			t.cancelled = true
		}
		fired = true
		t.fn()
	}

	if fired {
		l.compact()
	}
}

func (l *loop) compact() {
	l.wheelLock.Lock()
	defer l.wheelLock.Unlock()
	live := l.wheel[:0]
	for _, t := range l.wheel {
		if !t.cancelled {
			live = append(live, t)
		}
	}
	l.wheel = live
}
