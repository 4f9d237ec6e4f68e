package observer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToEverySubscriber(t *testing.T) {
	bus := New(nil, 8)
	defer bus.Close()

	var mu sync.Mutex
	var a, b []Kind
	wg := sync.WaitGroup{}
	wg.Add(2)

	bus.Subscribe(func(ev Event) {
		mu.Lock()
		a = append(a, ev.Kind)
		mu.Unlock()
		wg.Done()
	})
	bus.Subscribe(func(ev Event) {
		mu.Lock()
		b = append(b, ev.Kind)
		mu.Unlock()
		wg.Done()
	})

	bus.Publish(Event{Kind: StateChanged})

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("subscribers did not receive event in time")
	}

	assert.Equal(t, []Kind{StateChanged}, a)
	assert.Equal(t, []Kind{StateChanged}, b)
}

func TestPublishPreservesPerSubscriberOrder(t *testing.T) {
	bus := New(nil, 16)
	defer bus.Close()

	var mu sync.Mutex
	var received []Kind
	var wg sync.WaitGroup
	wg.Add(3)

	bus.Subscribe(func(ev Event) {
		mu.Lock()
		received = append(received, ev.Kind)
		mu.Unlock()
		wg.Done()
	})

	bus.Publish(Event{Kind: StateChanged})
	bus.Publish(Event{Kind: Error})
	bus.Publish(Event{Kind: LiveNote})

	require.Eventually(t, func() bool {
		wg.Wait()
		return true
	}, time.Second, time.Millisecond)

	assert.Equal(t, []Kind{StateChanged, Error, LiveNote}, received)
}

func TestPublishDropsOnFullQueueWithoutBlocking(t *testing.T) {
	bus := New(nil, 1)
	defer bus.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	bus.Subscribe(func(ev Event) {
		close(started)
		<-block
	})

	bus.Publish(Event{Kind: StateChanged}) // consumed immediately by the handler goroutine
	<-started

	// The handler is now blocked inside the first event; these two
	// publishes must not block the caller even though the queue is full.
	done := make(chan struct{})
	go func() {
		bus.Publish(Event{Kind: Error})
		bus.Publish(Event{Kind: LiveNote})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber queue")
	}
	close(block)
}
