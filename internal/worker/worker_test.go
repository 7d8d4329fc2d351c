package worker

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/cloudtel/asterisk-blf-sync/pkg/errors"
)

func TestTryOrWaitSuccessReturnsNil(t *testing.T) {
	ctx := context.Background()
	called := false

	err := tryOrWait(ctx, time.Millisecond, "serverA", func() error {
		called = true
		return nil
	})

	if err != nil {
		t.Fatalf("tryOrWait() error = %v, want nil", err)
	}
	if !called {
		t.Fatal("op was not called")
	}
}

func TestTryOrWaitRetryableErrorSleepsAndReturnsNil(t *testing.T) {
	ctx := context.Background()
	start := time.Now()

	err := tryOrWait(ctx, 20*time.Millisecond, "serverA", func() error {
		return apperrors.New(apperrors.ErrTransport, "connection refused")
	})

	if err != nil {
		t.Fatalf("tryOrWait() error = %v, want nil (retryable errors are swallowed so the loop continues)", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("tryOrWait returned after %v, want >= retryInterval", elapsed)
	}
}

func TestTryOrWaitFatalErrorPropagates(t *testing.T) {
	ctx := context.Background()
	wantErr := apperrors.New(apperrors.ErrConfiguration, "bad config")

	err := tryOrWait(ctx, time.Millisecond, "serverA", func() error {
		return wantErr
	})

	if err != wantErr {
		t.Errorf("tryOrWait() error = %v, want %v (non-retryable errors propagate)", err, wantErr)
	}
}

func TestTryOrWaitCancellationPropagates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tryOrWait(ctx, time.Millisecond, "serverA", func() error {
		return apperrors.New(apperrors.ErrTransport, "connection refused")
	})

	if err != context.Canceled {
		t.Errorf("tryOrWait() error = %v, want context.Canceled", err)
	}
}

func TestTryOrWaitCancellationDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	err := tryOrWait(ctx, time.Hour, "serverA", func() error {
		return apperrors.New(apperrors.ErrTransport, "connection refused")
	})

	if err != context.Canceled {
		t.Errorf("tryOrWait() error = %v, want context.Canceled", err)
	}
}
