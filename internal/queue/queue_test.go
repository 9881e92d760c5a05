package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestTryRecv_Empty(t *testing.T) {
	tx, rx := New[int](0)
	defer tx.Close()

	_, err := rx.TryRecv()
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("TryRecv() error = %v, want ErrEmpty", err)
	}
}

func TestSendRecv_FIFO(t *testing.T) {
	tx, rx := New[int](0)

	for i := 0; i < 100; i++ {
		if err := tx.Send(i); err != nil {
			t.Fatalf("Send(%d) error = %v", i, err)
		}
	}
	if rx.Len() != 100 {
		t.Errorf("Len() = %d, want 100", rx.Len())
	}

	for i := 0; i < 100; i++ {
		got, err := rx.TryRecv()
		if err != nil {
			t.Fatalf("TryRecv() error = %v", err)
		}
		if got != i {
			t.Fatalf("TryRecv() = %d, want %d", got, i)
		}
	}
}

func TestSend_Bounded(t *testing.T) {
	tx, rx := New[string](2)

	if err := tx.Send("a"); err != nil {
		t.Fatalf("Send error = %v", err)
	}
	if err := tx.Send("b"); err != nil {
		t.Fatalf("Send error = %v", err)
	}
	if err := tx.Send("c"); !errors.Is(err, ErrFull) {
		t.Fatalf("Send on full queue error = %v, want ErrFull", err)
	}

	if _, err := rx.TryRecv(); err != nil {
		t.Fatalf("TryRecv error = %v", err)
	}
	if err := tx.Send("c"); err != nil {
		t.Errorf("Send after drain error = %v", err)
	}
}

func TestSend_AllReceiversClosed(t *testing.T) {
	tx, rx := New[int](0)
	rx2 := rx.Clone()

	rx.Close()
	if err := tx.Send(1); err != nil {
		t.Fatalf("Send with one receiver left error = %v", err)
	}

	rx2.Close()
	if err := tx.Send(2); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("Send error = %v, want ErrDisconnected", err)
	}
	if tx.Len() != 0 {
		t.Errorf("Len() = %d, want buffered items discarded", tx.Len())
	}
}

func TestSend_ConcurrentWithReceiverClose(t *testing.T) {
	tx, rx := New[int](0)

	var wg sync.WaitGroup
	errs := make(chan error, 1000)
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				errs <- tx.Send(i)
			}
		}()
	}

	rx.Close()
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil && !errors.Is(err, ErrDisconnected) {
			t.Fatalf("Send error = %v, want nil or ErrDisconnected", err)
		}
	}
	if err := tx.Send(0); !errors.Is(err, ErrDisconnected) {
		t.Errorf("Send after close error = %v, want ErrDisconnected", err)
	}
}

func TestTryRecv_AllSendersClosed(t *testing.T) {
	tx, rx := New[int](0)
	tx2 := tx.Clone()

	if err := tx.Send(7); err != nil {
		t.Fatalf("Send error = %v", err)
	}
	tx.Close()
	tx2.Close()

	got, err := rx.TryRecv()
	if err != nil || got != 7 {
		t.Fatalf("TryRecv() = %d, %v; want buffered item before disconnect", got, err)
	}

	if _, err := rx.TryRecv(); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("TryRecv() error = %v, want ErrDisconnected", err)
	}
}

func TestClose_Idempotent(t *testing.T) {
	tx, rx := New[int](0)
	tx2 := tx.Clone()

	tx.Close()
	tx.Close()

	// tx2 still holds the queue open.
	if _, err := rx.TryRecv(); !errors.Is(err, ErrEmpty) {
		t.Fatalf("TryRecv() error = %v, want ErrEmpty", err)
	}
	if err := tx.Send(1); !errors.Is(err, ErrDisconnected) {
		t.Errorf("Send on closed handle error = %v, want ErrDisconnected", err)
	}
	if err := tx2.Send(1); err != nil {
		t.Errorf("Send on open handle error = %v", err)
	}
}

func TestRecv_WakesOnSend(t *testing.T) {
	tx, rx := New[string](0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result := make(chan string, 1)
	go func() {
		v, err := rx.Recv(ctx)
		if err != nil {
			result <- "error: " + err.Error()
			return
		}
		result <- v
	}()

	time.Sleep(20 * time.Millisecond)
	if err := tx.Send("hello"); err != nil {
		t.Fatalf("Send error = %v", err)
	}

	if got := <-result; got != "hello" {
		t.Errorf("Recv() = %q, want hello", got)
	}
}

func TestRecv_WakesOnLastSenderClose(t *testing.T) {
	tx, rx := New[int](0)

	done := make(chan error, 1)
	go func() {
		_, err := rx.Recv(context.Background())
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	tx.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrDisconnected) {
			t.Errorf("Recv() error = %v, want ErrDisconnected", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Recv did not return after last sender closed")
	}
}

func TestRecv_ContextCancel(t *testing.T) {
	tx, rx := New[int](0)
	defer tx.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := rx.Recv(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Recv() error = %v, want DeadlineExceeded", err)
	}
}

func TestMultiProducerMultiConsumer(t *testing.T) {
	const producers = 4
	const perProducer = 500

	tx, rx := New[int](0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		mu       sync.Mutex
		received = make(map[int]int)
		cwg      sync.WaitGroup
	)
	for c := 0; c < 3; c++ {
		crx := rx.Clone()
		cwg.Add(1)
		go func() {
			defer cwg.Done()
			defer crx.Close()
			for {
				v, err := crx.Recv(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				received[v]++
				mu.Unlock()
			}
		}()
	}

	var pwg sync.WaitGroup
	for p := 0; p < producers; p++ {
		ptx := tx.Clone()
		pwg.Add(1)
		go func(base int) {
			defer pwg.Done()
			defer ptx.Close()
			for i := 0; i < perProducer; i++ {
				if err := ptx.Send(base + i); err != nil {
					t.Errorf("Send error = %v", err)
					return
				}
			}
		}(p * perProducer)
	}

	pwg.Wait()
	tx.Close()
	cwg.Wait()
	rx.Close()

	if len(received) != producers*perProducer {
		t.Fatalf("received %d distinct items, want %d", len(received), producers*perProducer)
	}
	for v, n := range received {
		if n != 1 {
			t.Errorf("item %d delivered %d times", v, n)
		}
	}
}

func TestPerProducerOrder(t *testing.T) {
	tx, rx := New[[2]int](0)

	var wg sync.WaitGroup
	for p := 0; p < 3; p++ {
		ptx := tx.Clone()
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			defer ptx.Close()
			for i := 0; i < 200; i++ {
				_ = ptx.Send([2]int{id, i})
			}
		}(p)
	}
	wg.Wait()
	tx.Close()

	last := map[int]int{0: -1, 1: -1, 2: -1}
	for {
		v, err := rx.TryRecv()
		if errors.Is(err, ErrDisconnected) {
			break
		}
		if err != nil {
			t.Fatalf("TryRecv error = %v", err)
		}
		if v[1] <= last[v[0]] {
			t.Fatalf("producer %d: got %d after %d", v[0], v[1], last[v[0]])
		}
		last[v[0]] = v[1]
	}
}
