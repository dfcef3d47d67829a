package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseInterval parses a task period.
//
// Supported forms:
//   - Go duration: "1s", "2h30m"
//   - HH:MM: "00:50" (50 minutes), "02:30"
//   - "interval:<...>", "every:<...>" or "@every <...>" around either of the above
//
// The result must be > 0.
func ParseInterval(raw string) (time.Duration, error) {
	d, err := parseSpan(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval %q must be > 0", raw)
	}
	return d, nil
}

// ParseDelay is ParseInterval but accepts zero. Empty input is zero.
func ParseDelay(raw string) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	d, err := parseSpan(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("delay %q must be >= 0", raw)
	}
	return d, nil
}

func parseSpan(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	low := strings.ToLower(s)
	for _, p := range []string{"interval:", "every:", "@every "} {
		if strings.HasPrefix(low, p) {
			s = strings.TrimSpace(s[len(p):])
			break
		}
	}
	if s == "" {
		return 0, fmt.Errorf("interval required")
	}
	if m := reHHMM.FindStringSubmatch(s); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return 0, fmt.Errorf("invalid minutes in %q", raw)
		}
		return time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '55m'/'2h30m')", raw)
	}
	return d, nil
}

// ParseAlign parses an `align` cron expression ("*/5 * * * *", "@hourly",
// optionally prefixed with "cron:").
func ParseAlign(raw string) (cron.Schedule, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(strings.ToLower(s), "cron:") {
		s = strings.TrimSpace(s[len("cron:"):])
	}
	if s == "" {
		return nil, fmt.Errorf("cron expression required")
	}
	sched, err := cron.ParseStandard(s)
	if err != nil {
		return nil, fmt.Errorf("invalid cron %q: %w", raw, err)
	}
	return sched, nil
}
