package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errDial = errors.New("dial refused")

type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeNow) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeNow) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func newTestBreaker(cfg Config) (*Breaker, *fakeNow, *[]string) {
	clk := &fakeNow{t: time.Unix(1000, 0)}
	var transitions []string
	cfg.Now = clk.now
	cfg.OnStateChange = func(from, to State) {
		transitions = append(transitions, from.String()+">"+to.String())
	}
	return New(cfg), clk, &transitions
}

func fail(context.Context) error { return errDial }
func ok(context.Context) error   { return nil }

func TestNew_Defaults(t *testing.T) {
	b := New(Config{Name: "backend"})
	if b.maxFailures != 5 {
		t.Errorf("maxFailures = %d, want 5", b.maxFailures)
	}
	if b.resetTimeout != 30*time.Second {
		t.Errorf("resetTimeout = %v, want 30s", b.resetTimeout)
	}
	if b.halfOpenMax != 3 {
		t.Errorf("halfOpenMax = %d, want 3", b.halfOpenMax)
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b, _, transitions := newTestBreaker(Config{MaxFailures: 3, ResetTimeout: time.Minute})
	ctx := context.Background()

	for range 3 {
		if err := b.Do(ctx, fail); !errors.Is(err, errDial) {
			t.Fatalf("Do error = %v, want errDial", err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	called := false
	err := b.Do(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Do error = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn ran while open")
	}
	if len(*transitions) != 1 || (*transitions)[0] != "closed>open" {
		t.Errorf("transitions = %v", *transitions)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _, _ := newTestBreaker(Config{MaxFailures: 3})
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, ok)
	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, fail)

	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b, clk, transitions := newTestBreaker(Config{MaxFailures: 1, ResetTimeout: 10 * time.Second, HalfOpenMax: 2})
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	clk.advance(9 * time.Second)
	if b.State() != StateOpen {
		t.Fatalf("state = %v before reset timeout, want open", b.State())
	}
	clk.advance(time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v after reset timeout, want half_open", b.State())
	}

	if err := b.Do(ctx, ok); err != nil {
		t.Fatalf("probe 1: %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v after one probe, want half_open", b.State())
	}
	if err := b.Do(ctx, ok); err != nil {
		t.Fatalf("probe 2: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v after probes, want closed", b.State())
	}

	want := []string{"closed>open", "open>half_open", "half_open>closed"}
	if len(*transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", *transitions, want)
	}
	for i := range want {
		if (*transitions)[i] != want[i] {
			t.Errorf("transition %d = %q, want %q", i, (*transitions)[i], want[i])
		}
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clk, _ := newTestBreaker(Config{MaxFailures: 1, ResetTimeout: time.Second})
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	clk.advance(time.Second)
	if err := b.Do(ctx, fail); !errors.Is(err, errDial) {
		t.Fatalf("probe error = %v", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open after failed probe", b.State())
	}
	if err := b.Do(ctx, ok); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Do error = %v, want ErrCircuitOpen", err)
	}
}

func TestBreaker_HalfOpenProbeBudget(t *testing.T) {
	b, clk, _ := newTestBreaker(Config{MaxFailures: 1, ResetTimeout: time.Second, HalfOpenMax: 1})
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	clk.advance(time.Second)

	inProbe := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(ctx, func(context.Context) error {
			close(inProbe)
			<-release
			return nil
		})
	}()
	<-inProbe

	if err := b.Do(ctx, ok); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe error = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first probe: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_CancelledContextNotCounted(t *testing.T) {
	b, _, _ := newTestBreaker(Config{MaxFailures: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Do(ctx, func(ctx context.Context) error { return ctx.Err() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do error = %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, cancellation opened the breaker", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	b, _, transitions := newTestBreaker(Config{MaxFailures: 1, ResetTimeout: time.Hour})
	_ = b.Do(context.Background(), fail)

	b.Reset()
	if b.State() != StateClosed {
		t.Fatalf("state = %v after Reset", b.State())
	}
	if err := b.Do(context.Background(), ok); err != nil {
		t.Errorf("Do after Reset: %v", err)
	}
	if last := (*transitions)[len(*transitions)-1]; last != "open>closed" {
		t.Errorf("last transition = %q", last)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half_open"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
