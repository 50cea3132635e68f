package model

import (
	"sort"
	"time"
)

// Point is a single price observation.
type Point struct {
	Time  time.Time `json:"time"`
	Price float64   `json:"price"`
}

// PriceSeries is an immutable, timestamp-ordered spot price series.
// The zero value is the empty series; every operation returns a new value.
type PriceSeries struct {
	points []Point
}

// EmptySeries is the graceful "nothing stored yet" value.
func EmptySeries() PriceSeries { return PriceSeries{} }

// NewSeries copies points into a series as given. Ordering and uniqueness
// are not enforced here; use Normalize for untrusted input.
func NewSeries(points []Point) PriceSeries {
	if len(points) == 0 {
		return PriceSeries{}
	}
	cp := make([]Point, len(points))
	for i, p := range points {
		cp[i] = Point{Time: p.Time.UTC(), Price: p.Price}
	}
	return PriceSeries{points: cp}
}

// Len returns the number of observations.
func (s PriceSeries) Len() int { return len(s.points) }

// IsEmpty reports whether the series has no observations.
func (s PriceSeries) IsEmpty() bool { return len(s.points) == 0 }

// Points returns a copy of the observations.
func (s PriceSeries) Points() []Point {
	cp := make([]Point, len(s.points))
	copy(cp, s.points)
	return cp
}

// At returns the i-th observation.
func (s PriceSeries) At(i int) Point { return s.points[i] }

// First returns the earliest observation; ok is false for an empty series.
func (s PriceSeries) First() (Point, bool) {
	if len(s.points) == 0 {
		return Point{}, false
	}
	return s.points[0], true
}

// Last returns the latest observation; ok is false for an empty series.
func (s PriceSeries) Last() (Point, bool) {
	if len(s.points) == 0 {
		return Point{}, false
	}
	return s.points[len(s.points)-1], true
}

// IsStrictlyIncreasing reports whether timestamps are strictly increasing.
func (s PriceSeries) IsStrictlyIncreasing() bool {
	for i := 1; i < len(s.points); i++ {
		if !s.points[i].Time.After(s.points[i-1].Time) {
			return false
		}
	}
	return true
}

// Normalize sorts by timestamp and collapses duplicate timestamps, keeping
// the last value seen in input order.
func (s PriceSeries) Normalize() PriceSeries {
	if len(s.points) == 0 {
		return PriceSeries{}
	}
	idx := make(map[int64]int, len(s.points))
	out := make([]Point, 0, len(s.points))
	for _, p := range s.points {
		k := p.Time.UnixNano()
		if i, ok := idx[k]; ok {
			out[i].Price = p.Price
			continue
		}
		idx[k] = len(out)
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return PriceSeries{points: out}
}

func (s PriceSeries) filter(keep func(Point) bool) PriceSeries {
	out := make([]Point, 0, len(s.points))
	for _, p := range s.points {
		if keep(p) {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return PriceSeries{}
	}
	return PriceSeries{points: out}
}

// RemoveZeroPrices drops observations with a price of exactly zero.
func (s PriceSeries) RemoveZeroPrices() PriceSeries {
	return s.filter(func(p Point) bool { return p.Price != 0 })
}

// RemoveNegativePrices drops observations with a negative price.
func (s PriceSeries) RemoveNegativePrices() PriceSeries {
	return s.filter(func(p Point) bool { return p.Price >= 0 })
}

// RemoveFutureData drops observations stamped after now.
func (s PriceSeries) RemoveFutureData(now time.Time) PriceSeries {
	return s.filter(func(p Point) bool { return !p.Time.After(now) })
}

// After returns the observations strictly after t.
func (s PriceSeries) After(t time.Time) PriceSeries {
	return s.filter(func(p Point) bool { return p.Time.After(t) })
}

// Since returns the observations at or after t.
func (s PriceSeries) Since(t time.Time) PriceSeries {
	return s.filter(func(p Point) bool { return !p.Time.Before(t) })
}

// Tail returns the last n observations.
func (s PriceSeries) Tail(n int) PriceSeries {
	if n <= 0 {
		return PriceSeries{}
	}
	if n >= len(s.points) {
		return s
	}
	return NewSeries(s.points[len(s.points)-n:])
}

// Head returns the first n observations.
func (s PriceSeries) Head(n int) PriceSeries {
	if n <= 0 {
		return PriceSeries{}
	}
	if n >= len(s.points) {
		return s
	}
	return NewSeries(s.points[:n])
}

// DailyClose keeps the last observation of each UTC calendar day, stamped
// with the day's midnight. The series must be ordered.
func (s PriceSeries) DailyClose() PriceSeries {
	out := make([]Point, 0)
	for _, p := range s.points {
		y, m, d := p.Time.UTC().Date()
		day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		if n := len(out); n > 0 && out[n-1].Time.Equal(day) {
			out[n-1].Price = p.Price
			continue
		}
		out = append(out, Point{Time: day, Price: p.Price})
	}
	if len(out) == 0 {
		return PriceSeries{}
	}
	return PriceSeries{points: out}
}

// Equal reports whether both series hold identical observations.
func (s PriceSeries) Equal(other PriceSeries) bool {
	if len(s.points) != len(other.points) {
		return false
	}
	for i := range s.points {
		if !s.points[i].Time.Equal(other.points[i].Time) || s.points[i].Price != other.points[i].Price {
			return false
		}
	}
	return true
}
