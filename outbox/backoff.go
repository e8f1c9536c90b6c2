package outbox

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// Backoff returns the delay before attempt+1 after attempt failed: base,
// 2*base, 4*base... capped at max.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	b := retry.WithCappedDuration(max, retry.NewExponential(base))
	var d time.Duration
	for i := 0; i < attempt; i++ {
		d, _ = b.Next()
		if d == max {
			break
		}
	}
	return d
}
