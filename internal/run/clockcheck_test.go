package run

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/beevik/ntp"
)

func swapNTPQuery(t *testing.T, fn func(host string) (*ntp.Response, error)) {
	t.Helper()
	orig := ntpQuery
	ntpQuery = fn
	t.Cleanup(func() { ntpQuery = orig })
}

func TestNTPClockCheck_AcceptsSmallOffset(t *testing.T) {
	swapNTPQuery(t, func(host string) (*ntp.Response, error) {
		return &ntp.Response{ClockOffset: 120 * time.Millisecond}, nil
	})

	if err := NTPClockCheck("")(); err != nil {
		t.Errorf("check failed on small offset: %v", err)
	}
}

func TestNTPClockCheck_RejectsSkew(t *testing.T) {
	for _, offset := range []time.Duration{800 * time.Millisecond, -800 * time.Millisecond} {
		swapNTPQuery(t, func(host string) (*ntp.Response, error) {
			return &ntp.Response{ClockOffset: offset}, nil
		})

		if err := NTPClockCheck("")(); err == nil {
			t.Errorf("check accepted %s offset", offset)
		}
	}
}

func TestNTPClockCheck_QueryFailure(t *testing.T) {
	swapNTPQuery(t, func(host string) (*ntp.Response, error) {
		return nil, errors.New("no route to host")
	})

	err := NTPClockCheck("time.example.org")()
	if err == nil || !strings.Contains(err.Error(), "time.example.org") {
		t.Errorf("error = %v, want pool name in message", err)
	}
}
