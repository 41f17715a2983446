package cache

import "time"

type clock interface {
	Now() time.Time
}

type systemClock struct{}

var _ clock = systemClock{}

func (systemClock) Now() time.Time {
	return time.Now()
}
