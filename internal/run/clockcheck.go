package run

import (
	"fmt"
	"time"

	"github.com/beevik/ntp"
)

const (
	defaultNTPPool       = "pool.ntp.org"
	defaultSkewThreshold = 500 * time.Millisecond
)

// ntpQuery is swapped out in tests.
var ntpQuery = ntp.Query

// NTPClockCheck returns a one-shot controller clock check against an NTP
// pool. A skewed controller clock makes run timestamps and task durations
// misleading, so the coordinator warns about it before provisioning.
func NTPClockCheck(pool string) func() error {
	if pool == "" {
		pool = defaultNTPPool
	}
	return func() error {
		resp, err := ntpQuery(pool)
		if err != nil {
			return fmt.Errorf("query %s: %w", pool, err)
		}
		offset := resp.ClockOffset
		if offset < 0 {
			offset = -offset
		}
		if offset >= defaultSkewThreshold {
			return fmt.Errorf("controller clock is %s off %s", resp.ClockOffset, pool)
		}
		return nil
	}
}
