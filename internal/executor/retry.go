package executor

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"time"

	"github.com/polything/phoenix-template/internal/core/domain"
)

type retryCap interface {
	MaxExtraRetries() int
}

// maxExtraRetries lowers the default retry budget for errors that carry
// their own cap.
func maxExtraRetries(defaultRetries int, err error) int {
	if defaultRetries < 0 {
		defaultRetries = 0
	}
	var capErr retryCap
	if errors.As(err, &capErr) {
		limited := max(capErr.MaxExtraRetries(), 0)
		if limited < defaultRetries {
			return limited
		}
	}
	return defaultRetries
}

// classifyCallErr maps a raw generation error onto the capability
// taxonomy. Timeouts and temporary network errors are transient; anything
// not already classified is permanent.
func classifyCallErr(err error) error {
	var ce *domain.CapabilityError
	if errors.As(err, &ce) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.Transient(err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return domain.Transient(err)
	}
	return domain.Permanent(err)
}

func backoffSleep(initial, max time.Duration, jitterFrac float64, retry int) time.Duration {
	sleep := initial
	for i := 0; i < retry && sleep < max; i++ {
		sleep *= 2
		if sleep > max {
			sleep = max
			break
		}
	}
	if jitterFrac <= 0 {
		return sleep
	}
	j := 1 + (rand.Float64()*2-1)*jitterFrac
	return time.Duration(float64(sleep) * j)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
