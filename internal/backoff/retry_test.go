package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), Fixed(time.Hour), 3, func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if got != "ok" || calls != 1 {
		t.Errorf("got %q after %d calls, want ok after 1", got, calls)
	}
}

func TestRetryRecoversAfterFailure(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), Fixed(time.Millisecond), 3, func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if got != 42 || calls != 3 {
		t.Errorf("got %d after %d calls, want 42 after 3", got, calls)
	}
}

func TestRetryReturnsLastErrorWhenExhausted(t *testing.T) {
	attempt := 0
	_, err := Retry(context.Background(), Fixed(time.Millisecond), 3, func(ctx context.Context) (struct{}, error) {
		attempt++
		return struct{}{}, errors.New("boom " + string(rune('0'+attempt)))
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if err.Error() != "boom 3" {
		t.Errorf("err = %v, want the last attempt's error", err)
	}
}

func TestRetryWaitsBetweenAttempts(t *testing.T) {
	start := time.Now()
	_, _ = Retry(context.Background(), Fixed(50*time.Millisecond), 2, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, errors.New("always")
	})
	if elapsed := time.Since(start); elapsed < 45*time.Millisecond {
		t.Errorf("elapsed = %v, want at least one 50ms pause", elapsed)
	}
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := Retry(ctx, Fixed(time.Hour), 5, func(ctx context.Context) (struct{}, error) {
			calls++
			return struct{}{}, errors.New("fail")
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Retry did not observe cancellation")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (cancelled during first sleep)", calls)
	}
}

func TestRetryChecksContextBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Retry(ctx, Fixed(time.Millisecond), 3, func(ctx context.Context) (struct{}, error) {
		calls++
		return struct{}{}, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
}
