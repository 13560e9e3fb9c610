package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoopSerializesPosts(t *testing.T) {
	l := newLoop()
	go l.run()
	defer l.stop()

	results := make(chan int, 3)
	for i := 0; i < 3; i++ {
		i := i
		l.Post(func() { results <- i })
	}

	// arrival order is preserved
	for want := 0; want < 3; want++ {
		select {
		case got := <-results:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatal("loop did not drain queue")
		}
	}
}

func TestCullDedupes(t *testing.T) {
	l := newLoop()
	go l.run()
	defer l.stop()

	culled := make(chan struct{}, 2)
	done := make(chan struct{})
	l.Post(func() {
		key := "socket-7"
		l.Cull(key, func() { culled <- struct{}{} })
		l.Cull(key, func() { culled <- struct{}{} })
		close(done)
	})
	<-done

	// drained once at the end of the batch
	select {
	case <-culled:
	case <-time.After(time.Second):
		t.Fatal("cull never drained")
	}
	select {
	case <-culled:
		t.Fatal("culled the same key twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTimerOrderWithinTick(t *testing.T) {
	l := newLoop()

	var order []int
	l.Schedule(0, func() { order = append(order, 1) })
	l.Schedule(0, func() { order = append(order, 2) })
	l.Schedule(0, func() { order = append(order, 3) })

	l.advance(time.Now().Unix() + 1)
	assert.Equal(t, []int{1, 2, 3}, order)

	// one-shots do not fire twice
	l.advance(time.Now().Unix() + 2)
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestRepeatingTimerAndCancel(t *testing.T) {
	l := newLoop()

	var fires int
	tm := l.ScheduleRepeating(time.Second, func() { fires++ })

	now := time.Now().Unix()
	l.advance(now + 1)
	l.advance(now + 2)
	assert.Equal(t, 2, fires)

	tm.Cancel()
	l.advance(now + 3)
	assert.Equal(t, 2, fires)
}

func TestTimerReschedulesItself(t *testing.T) {
	l := newLoop()

	var fires int
	var again func()
	again = func() {
		fires++
		if fires < 2 {
			l.Schedule(time.Second, again)
		}
	}
	l.Schedule(0, again)

	now := time.Now().Unix()
	l.advance(now + 1)
	assert.Equal(t, 1, fires)
	// the rescheduled copy waits for the next tick
	l.advance(now + 2)
	assert.Equal(t, 2, fires)
}
