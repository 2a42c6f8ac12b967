package domain

import (
	"fmt"
	"time"
)

// TradingCalendar is the ordered, deduplicated sequence of trading days
// bounding every simulation index. Lookups on non-trading days or
// outside the range return an error rather than guessing.
type TradingCalendar struct {
	days  []time.Time
	index map[string]int
}

const dateLayout = time.DateOnly

func NewTradingCalendar(days []time.Time) (*TradingCalendar, error) {
	c := &TradingCalendar{
		days:  make([]time.Time, 0, len(days)),
		index: make(map[string]int, len(days)),
	}
	for _, d := range days {
		key := d.Format(dateLayout)
		if _, ok := c.index[key]; ok {
			return nil, fmt.Errorf("duplicate trading day %s", key)
		}
		if len(c.days) > 0 && !c.days[len(c.days)-1].Before(d) {
			return nil, fmt.Errorf("trading days out of order at %s", key)
		}
		c.index[key] = len(c.days)
		c.days = append(c.days, d)
	}
	if len(c.days) == 0 {
		return nil, fmt.Errorf("cannot build calendar with 0 trading days")
	}
	return c, nil
}

func (c *TradingCalendar) Len() int {
	return len(c.days)
}

func (c *TradingCalendar) At(i int) (time.Time, error) {
	if i < 0 || i >= len(c.days) {
		return time.Time{}, fmt.Errorf("trading day index %d out of range [0, %d)", i, len(c.days))
	}
	return c.days[i], nil
}

// Index returns the position of the given date in the calendar.
func (c *TradingCalendar) Index(date time.Time) (int, error) {
	i, ok := c.index[date.Format(dateLayout)]
	if !ok {
		return 0, fmt.Errorf("%s is not a trading day", date.Format(dateLayout))
	}
	return i, nil
}

// Days returns the calendar slice between start and end inclusive.
// Both bounds must themselves be trading days.
func (c *TradingCalendar) Days(start, end time.Time) ([]time.Time, error) {
	i, err := c.Index(start)
	if err != nil {
		return nil, err
	}
	j, err := c.Index(end)
	if err != nil {
		return nil, err
	}
	if j < i {
		return nil, fmt.Errorf("calendar range end %s before start %s", end.Format(dateLayout), start.Format(dateLayout))
	}
	return c.days[i : j+1], nil
}

func (c *TradingCalendar) All() []time.Time {
	out := make([]time.Time, len(c.days))
	copy(out, c.days)
	return out
}
