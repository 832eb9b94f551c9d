package clock

import "time"

type Timer interface {
	Stop() bool
}

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type Config struct {
	// Offset shifts Now, used to run schedules against a skewed wall clock.
	Offset time.Duration
}

var DefaultConfig = Config{}

type clock struct {
	offset time.Duration
}

func (c clock) Now() time.Time {
	return time.Now().Add(c.offset)
}

func (c clock) AfterFunc(d time.Duration, f func()) Timer {
	if d < 0 {
		d = 0
	}
	return time.AfterFunc(d, f)
}

func Make(config ...Config) Clock {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	return clock{offset: cfg.Offset}
}
