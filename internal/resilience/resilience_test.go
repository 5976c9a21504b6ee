package resilience

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func fastPolicy(attempts int) Policy {
	return Policy{Name: "test", Attempts: attempts, Delay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestDo_RetriesTransientUntilSuccess(t *testing.T) {
	var calls int
	var retries []int
	p := fastPolicy(3)
	p.OnRetry = func(attempt int, _ error) { retries = append(retries, attempt) }

	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		if calls < 3 {
			return Transient(errors.New("busy"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if len(retries) != 2 || retries[0] != 1 || retries[1] != 2 {
		t.Errorf("unexpected retry attempts %v", retries)
	}
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	var calls int
	perm := errors.New("bad request")
	err := Do(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		return perm
	})
	if !errors.Is(err, perm) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastPolicy(4), func(context.Context) error {
		calls++
		return Transient(errors.New("still down"))
	})
	if err == nil || err.Error() != "still down" {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 4 {
		t.Errorf("expected 4 calls, got %d", calls)
	}
}

func TestDo_ContextCancelStopsWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{Attempts: 3, Delay: time.Hour}
	var calls int

	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, p, func(context.Context) error {
			calls++
			return Transient(errors.New("wait"))
		})
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancel")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoVal_ReturnsValue(t *testing.T) {
	var calls int
	v, err := DoVal(context.Background(), fastPolicy(3), func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", Transient(errors.New("once"))
		}
		return "ok", nil
	})
	if err != nil || v != "ok" {
		t.Fatalf("got %q, %v", v, err)
	}
}

func TestDoVal_CustomRetryable(t *testing.T) {
	var calls int
	p := fastPolicy(3)
	p.Retryable = func(error) bool { return true }
	_, err := DoVal(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("plain")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestNewPolicy_Defaults(t *testing.T) {
	p := NewPolicy("embedding", -1, 0)
	if p.Attempts != 3 || p.Delay != time.Second || p.MaxDelay != 30*time.Second {
		t.Errorf("unexpected defaults %+v", p)
	}
	if p := NewPolicy("feed", 0, 0); p.Attempts != 1 {
		t.Errorf("zero retries should mean one attempt, got %d", p.Attempts)
	}
	p = NewPolicy("embedding", 3, 250*time.Millisecond)
	if p.Attempts != 4 || p.Delay != 250*time.Millisecond {
		t.Errorf("unexpected policy %+v", p)
	}
}

func TestBackoff_Grows(t *testing.T) {
	p := Policy{Delay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}.withDefaults()
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	for i, w := range want {
		if got := p.backoff(i); got != w {
			t.Errorf("attempt %d: expected %s, got %s", i, w, got)
		}
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"marked", Transient(errors.New("x")), true},
		{"wrapped mark", errors.Join(errors.New("ctx"), Transient(errors.New("x"))), true},
		{"reset message", errors.New("read: connection reset by peer"), true},
		{"timeout message", errors.New("dial tcp: i/o timeout"), true},
		{"permanent", errors.New("invalid json"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestCheckResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.WriteHeader(http.StatusOK)
		case "/busy":
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, "slow down")
		case "/down":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, strings.Repeat("x", 2000))
		}
	}))
	defer srv.Close()

	get := func(path string) error {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		defer resp.Body.Close() //nolint:errcheck
		return CheckResponse(resp)
	}

	if err := get("/ok"); err != nil {
		t.Errorf("expected nil, got %v", err)
	}

	err := get("/busy")
	if !IsTransient(err) {
		t.Errorf("429 should be transient: %v", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != 429 || se.Body != "slow down" {
		t.Errorf("unexpected status error %#v", se)
	}

	if err := get("/down"); !IsTransient(err) {
		t.Errorf("502 should be transient: %v", err)
	}

	err = get("/missing")
	if IsTransient(err) {
		t.Errorf("404 should be permanent: %v", err)
	}
	if !errors.As(err, &se) || len(se.Body) != 512 || !strings.Contains(se.URL, "/missing") {
		t.Errorf("unexpected status error %#v", se)
	}
}

func TestIsTransientStatus(t *testing.T) {
	for code, want := range map[int]bool{200: false, 400: false, 404: false, 408: true, 429: true, 500: true, 501: false, 503: true} {
		if got := IsTransientStatus(code); got != want {
			t.Errorf("IsTransientStatus(%d) = %v, want %v", code, got, want)
		}
	}
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func failing(context.Context) error { return errors.New("fail") }
func passing(context.Context) error { return nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker("embedding", 3, time.Minute)
	for i := 0; i < 3; i++ {
		_ = b.Call(context.Background(), failing)
	}
	if b.State() != Open {
		t.Fatalf("expected open, got %s", b.State())
	}
	err := b.Call(context.Background(), func(context.Context) error {
		t.Error("should not be called while open")
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen, got %v", err)
	}
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b := NewBreaker("embedding", 3, time.Minute)
	_ = b.Call(context.Background(), failing)
	_ = b.Call(context.Background(), failing)
	_ = b.Call(context.Background(), passing)
	_ = b.Call(context.Background(), failing)
	_ = b.Call(context.Background(), failing)
	if b.State() != Closed {
		t.Errorf("expected closed, got %s", b.State())
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	var transitions []string
	b := NewBreaker("embedding", 1, 10*time.Second, WithStateHook(func(_ string, from, to State) {
		transitions = append(transitions, from.String()+">"+to.String())
	}))
	b.now = c.now

	_ = b.Call(context.Background(), failing)
	if b.State() != Open {
		t.Fatalf("expected open, got %s", b.State())
	}

	c.advance(10 * time.Second)
	if b.State() != HalfOpen {
		t.Fatalf("expected half-open after cooldown, got %s", b.State())
	}

	// A failed probe reopens.
	_ = b.Call(context.Background(), failing)
	if b.State() != Open {
		t.Fatalf("expected open after failed probe, got %s", b.State())
	}

	c.advance(10 * time.Second)
	if err := b.Call(context.Background(), passing); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if b.State() != Closed {
		t.Errorf("expected closed after probe, got %s", b.State())
	}

	want := []string{"closed>open", "open>half-open", "half-open>open", "open>half-open", "half-open>closed"}
	if strings.Join(transitions, ",") != strings.Join(want, ",") {
		t.Errorf("transitions = %v, want %v", transitions, want)
	}
}

func TestBreaker_SingleProbe(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	b := NewBreaker("embedding", 1, time.Second)
	b.now = c.now
	_ = b.Call(context.Background(), failing)
	c.advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = b.Call(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := b.Call(context.Background(), passing); !errors.Is(err, ErrOpen) {
		t.Errorf("second probe should be rejected, got %v", err)
	}
	close(release)
}

func TestBreaker_CancellationNotCounted(t *testing.T) {
	b := NewBreaker("embedding", 1, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = b.Call(ctx, func(ctx context.Context) error { return ctx.Err() })
	if b.State() != Closed {
		t.Errorf("expected closed, got %s", b.State())
	}
}

func TestCallVal(t *testing.T) {
	b := NewBreaker("embedding", 2, time.Minute)
	v, err := CallVal(context.Background(), b, func(context.Context) (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Errorf("got %d, %v", v, err)
	}
}
