package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingDelegate struct {
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	calls    atomic.Int32

	mu     sync.Mutex
	seen   []int // cached value observed per call, -1 when not found
	fail   error
	delay  time.Duration
	panics bool
}

func (d *countingDelegate) CacheKey(creds string) string { return creds }

func (d *countingDelegate) RequestLogon(ctx context.Context, creds string, cached int, found bool) (int, error) {
	n := d.inFlight.Add(1)
	defer d.inFlight.Add(-1)
	for {
		m := d.maxSeen.Load()
		if n <= m || d.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}

	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if d.panics {
		panic("boom")
	}

	d.mu.Lock()
	if found {
		d.seen = append(d.seen, cached)
	} else {
		d.seen = append(d.seen, -1)
	}
	d.mu.Unlock()

	if d.fail != nil {
		return 0, d.fail
	}
	return int(d.calls.Add(1)), nil
}

func startCoordinator(t *testing.T, c *Coordinator[string, int]) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		if err := c.Start(ctx); err != nil {
			t.Errorf("Start: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
}

func TestCoordinator_SerializesSameKey(t *testing.T) {
	d := &countingDelegate{delay: 5 * time.Millisecond}
	c := NewCoordinator[string, int](d)
	startCoordinator(t, c)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Login(context.Background(), "alice"); err != nil {
				t.Errorf("Login: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := d.maxSeen.Load(); got != 1 {
		t.Errorf("max in-flight logons = %d, want 1", got)
	}
	if got := d.calls.Load(); got != 10 {
		t.Errorf("logons = %d, want 10", got)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestCoordinator_LastCompletionWins(t *testing.T) {
	d := &countingDelegate{}
	c := NewCoordinator[string, int](d)
	startCoordinator(t, c)

	for want := 1; want <= 3; want++ {
		got, err := c.Login(context.Background(), "alice")
		if err != nil {
			t.Fatalf("Login: %v", err)
		}
		if got != want {
			t.Errorf("Login #%d = %d", want, got)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	want := []int{-1, 1, 2}
	for i, v := range want {
		if d.seen[i] != v {
			t.Errorf("call %d saw cached %d, want %d", i, d.seen[i], v)
		}
	}
}

func TestCoordinator_DelegateErrorNotCached(t *testing.T) {
	fault := errors.New("bad credentials")
	d := &countingDelegate{fail: fault}
	c := NewCoordinator[string, int](d)
	startCoordinator(t, c)

	_, err := c.Login(context.Background(), "bob")
	if !errors.Is(err, fault) {
		t.Fatalf("Login error = %v, want %v", err, fault)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestCoordinator_DelegatePanicIsError(t *testing.T) {
	d := &countingDelegate{panics: true}
	c := NewCoordinator[string, int](d)
	startCoordinator(t, c)

	if _, err := c.Login(context.Background(), "bob"); err == nil {
		t.Fatal("expected error from panicking delegate")
	}

	// worker survives
	d.panics = false
	if _, err := c.Login(context.Background(), "bob"); err != nil {
		t.Fatalf("Login after panic: %v", err)
	}
}

func TestCoordinator_UnservedTimesOut(t *testing.T) {
	c := NewCoordinator[string, int](&countingDelegate{}, WithTimeout(20*time.Millisecond))

	_, err := c.Login(context.Background(), "alice")
	if !errors.Is(err, ErrLoginTimeout) {
		t.Fatalf("Login error = %v, want ErrLoginTimeout", err)
	}
}

func TestCoordinator_Stopped(t *testing.T) {
	c := NewCoordinator[string, int](&countingDelegate{})
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = c.Start(ctx)
	}()
	cancel()
	<-stopped

	_, err := c.Login(context.Background(), "alice")
	if !errors.Is(err, ErrCoordinatorStopped) {
		t.Fatalf("Login error = %v, want ErrCoordinatorStopped", err)
	}
}

func TestCoordinator_StartTwice(t *testing.T) {
	c := NewCoordinator[string, int](&countingDelegate{})
	startCoordinator(t, c)

	// wait for the first worker to claim the coordinator
	for !c.running.Load() {
		time.Sleep(time.Millisecond)
	}
	if err := c.Start(context.Background()); err == nil {
		t.Fatal("second Start should fail")
	}
}

func TestCoordinator_Forget(t *testing.T) {
	d := &countingDelegate{}
	c := NewCoordinator[string, int](d)
	startCoordinator(t, c)

	ctx := context.Background()
	if _, err := c.Login(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Login(ctx, "carol"); err != nil {
		t.Fatal(err)
	}
	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}

	if err := c.Forget(ctx, "alice"); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}

	if _, err := c.Login(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if last := d.seen[len(d.seen)-1]; last != -1 {
		t.Errorf("login after Forget saw cached %d, want none", last)
	}
}
