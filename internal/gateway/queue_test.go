package gateway

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestSendQueue_PushPopOrder(t *testing.T) {
	q := newSendQueue(8)

	q.push([]byte("a"), false)
	q.push([]byte("b"), true)
	q.push([]byte("c"), false)

	for _, want := range []string{"a", "b", "c"} {
		data, ok := q.pop()
		if !ok {
			t.Fatal("pop returned closed")
		}
		if string(data) != want {
			t.Errorf("pop = %q, want %q", data, want)
		}
	}
}

func TestSendQueue_EvictsOldestDroppableWhenFull(t *testing.T) {
	q := newSendQueue(3)

	q.push([]byte("chat1"), false)
	q.push([]byte("typing1"), true)
	q.push([]byte("typing2"), true)

	// Queue at capacity; the oldest droppable (typing1) makes room.
	if ok := q.push([]byte("chat2"), false); !ok {
		t.Fatal("push of non-droppable event was dropped")
	}
	if q.len() != 3 {
		t.Fatalf("queue len = %d, want 3", q.len())
	}

	var got []string
	for i := 0; i < 3; i++ {
		data, _ := q.pop()
		got = append(got, string(data))
	}
	want := []string{"chat1", "typing2", "chat2"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("pop[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSendQueue_DropsNewDroppableWhenFullOfMustDeliver(t *testing.T) {
	q := newSendQueue(2)

	q.push([]byte("chat1"), false)
	q.push([]byte("chat2"), false)

	if ok := q.push([]byte("typing"), true); ok {
		t.Error("droppable push succeeded against a full queue of must-deliver events")
	}
	if q.len() != 2 {
		t.Errorf("queue len = %d, want 2", q.len())
	}
}

func TestSendQueue_GrowsPastCapForMustDeliver(t *testing.T) {
	q := newSendQueue(2)

	q.push([]byte("chat1"), false)
	q.push([]byte("chat2"), false)

	if ok := q.push([]byte("chat3"), false); !ok {
		t.Fatal("must-deliver push was dropped")
	}
	if q.len() != 3 {
		t.Errorf("queue len = %d, want 3", q.len())
	}
}

func TestSendQueue_PushNeverBlocks(t *testing.T) {
	q := newSendQueue(4)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			q.push([]byte(fmt.Sprintf("msg%d", i)), i%2 == 0)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("push blocked with no consumer")
	}
}

func TestSendQueue_PopBlocksUntilPush(t *testing.T) {
	q := newSendQueue(4)

	got := make(chan []byte, 1)
	go func() {
		data, _ := q.pop()
		got <- data
	}()

	time.Sleep(20 * time.Millisecond)
	q.push([]byte("hello"), false)

	select {
	case data := <-got:
		if string(data) != "hello" {
			t.Errorf("pop = %q, want %q", data, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("pop did not wake after push")
	}
}

func TestSendQueue_CloseWakesBlockedPop(t *testing.T) {
	q := newSendQueue(4)

	done := make(chan bool, 1)
	go func() {
		_, ok := q.pop()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.close()

	select {
	case ok := <-done:
		if ok {
			t.Error("pop returned ok after close on an empty queue")
		}
	case <-time.After(time.Second):
		t.Fatal("pop did not wake after close")
	}

	if q.push([]byte("late"), false) {
		t.Error("push succeeded on a closed queue")
	}
}

func TestSendQueue_ConcurrentPushers(t *testing.T) {
	q := newSendQueue(64)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				q.push([]byte("x"), false)
			}
		}()
	}

	consumed := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, ok := q.pop(); !ok {
				return
			}
			consumed++
		}
	}()

	wg.Wait()
	// Non-droppable pushes always succeed; drain what remains, then close.
	for q.len() > 0 {
		time.Sleep(5 * time.Millisecond)
	}
	q.close()
	<-done

	if consumed != 16*50 {
		t.Errorf("consumed %d events, want %d", consumed, 16*50)
	}
}
