package ratelimit

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Window represents the time window for rate limiting
type Window string

const (
	WindowSecond Window = "second"
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
)

// Duration returns the length of the window
func (w Window) Duration() time.Duration {
	switch w {
	case WindowSecond:
		return time.Second
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	}
	return 0
}

func parseWindow(s string) (Window, bool) {
	switch strings.TrimSuffix(strings.ToLower(s), "s") {
	case "second":
		return WindowSecond, true
	case "minute":
		return WindowMinute, true
	case "hour":
		return WindowHour, true
	case "day":
		return WindowDay, true
	}
	return "", false
}

// Limit allows Count requests per Window
type Limit struct {
	Count  int
	Window Window
}

func (l Limit) String() string {
	return fmt.Sprintf("%d per %s", l.Count, l.Window)
}

// ParseLimits parses a list such as "1000 per hour;100 per minute".
// Empty segments are ignored.
func ParseLimits(s string) ([]Limit, error) {
	var limits []Limit
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		fields := strings.Fields(part)
		if len(fields) == 1 && strings.Contains(fields[0], "/") {
			// "100/minute"
			fields = strings.SplitN(fields[0], "/", 2)
		}

		var countStr, windowStr string
		switch len(fields) {
		case 2:
			countStr, windowStr = fields[0], fields[1]
		case 3:
			if !strings.EqualFold(fields[1], "per") {
				return nil, fmt.Errorf("invalid rate limit %q", part)
			}
			countStr, windowStr = fields[0], fields[2]
		default:
			return nil, fmt.Errorf("invalid rate limit %q", part)
		}

		count, err := strconv.Atoi(countStr)
		if err != nil || count <= 0 {
			return nil, fmt.Errorf("invalid rate limit count in %q", part)
		}
		window, ok := parseWindow(windowStr)
		if !ok {
			return nil, fmt.Errorf("invalid rate limit window in %q", part)
		}
		limits = append(limits, Limit{Count: count, Window: window})
	}
	return limits, nil
}
