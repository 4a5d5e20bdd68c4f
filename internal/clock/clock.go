package clock

import (
	"sync"
	"time"
)

// Clock — единая абстракция времени для движка. От нее зависят и TTL кэша,
// и истечение заявок, и окно execution delay: в тестах время двигается
// детерминированно, без реальных sleep.
type Clock interface {
	Now() time.Time
}

// System — боевые часы
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Manual — управляемые часы для тестов. Потокобезопасны: sweep-горутина
// и тест могут читать/двигать время одновременно.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (c *Manual) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance сдвигает время вперед на d
func (c *Manual) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set выставляет абсолютное время
func (c *Manual) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
