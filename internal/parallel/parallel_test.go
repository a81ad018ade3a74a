package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestFor(t *testing.T) {
	cfg := DefaultConfig()

	var counter int64
	n := 1000

	errs := For(context.Background(), n, func(_ context.Context, _ int) error {
		atomic.AddInt64(&counter, 1)
		return nil
	}, cfg)

	if counter != int64(n) {
		t.Errorf("Expected %d, got %d", n, counter)
	}
	if err := First(errs); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestFor_Sequential(t *testing.T) {
	cfg := Config{Enabled: false}

	order := make([]int, 0, 10)
	For(context.Background(), 10, func(_ context.Context, i int) error {
		order = append(order, i)
		return nil
	}, cfg)

	for i, v := range order {
		if v != i {
			t.Fatalf("Expected sequential order, got %v", order)
		}
	}
}

func TestFor_Errors(t *testing.T) {
	errOdd := errors.New("odd")
	cfg := Config{Enabled: true, NumWorkers: 4}

	errs := For(context.Background(), 8, func(_ context.Context, i int) error {
		if i%2 == 1 {
			return errOdd
		}
		return nil
	}, cfg)

	for i, err := range errs {
		if (i%2 == 1) != errors.Is(err, errOdd) {
			t.Errorf("Job %d: unexpected error %v", i, err)
		}
	}
	if !errors.Is(First(errs), errOdd) {
		t.Errorf("Expected first error to be errOdd, got %v", First(errs))
	}
}

func TestFor_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int64
	errs := For(ctx, 5, func(_ context.Context, _ int) error {
		atomic.AddInt64(&calls, 1)
		return nil
	}, Config{Enabled: true, NumWorkers: 2})

	if calls != 0 {
		t.Errorf("Expected no calls, got %d", calls)
	}
	for i, err := range errs {
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Job %d: expected context.Canceled, got %v", i, err)
		}
	}
}
