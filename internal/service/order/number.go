package order

import (
	"fmt"
	"sync"
	"time"
)

const orderNumberPrefix = "ORD-"

// NumberGenerator выдаёт номера вида ORD-yyyyMMddHHmmssfff (UTC).
// В пределах процесса номера строго возрастают: при совпадении миллисекунды
// берётся следующая.
type NumberGenerator struct {
	mu   sync.Mutex
	last time.Time
}

func NewNumberGenerator() *NumberGenerator {
	return &NumberGenerator{}
}

// Next возвращает следующий номер для момента now.
func (g *NumberGenerator) Next(now time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := now.UTC().Truncate(time.Millisecond)
	if !ts.After(g.last) {
		ts = g.last.Add(time.Millisecond)
	}
	g.last = ts
	return FormatNumber(ts)
}

// FormatNumber форматирует момент времени как номер заказа.
func FormatNumber(ts time.Time) string {
	ts = ts.UTC()
	return fmt.Sprintf("%s%s%03d", orderNumberPrefix, ts.Format("20060102150405"), ts.Nanosecond()/int(time.Millisecond))
}
