// Package bucket quantizes timestamps into fixed-width, half-open time
// buckets identified by their floor. Buckets are derived, never stored.
package bucket

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidWidth is returned for widths that are not a positive whole
// number of seconds.
var ErrInvalidWidth = errors.New("bucket width must be a positive whole number of seconds")

// Key identifies a bucket by its floor timestamp, in Unix seconds (UTC).
type Key int64

// Time returns the bucket floor as a UTC time.
func (k Key) Time() time.Time {
	return time.Unix(int64(k), 0).UTC()
}

func (k Key) String() string {
	return k.Time().Format(time.RFC3339)
}

// Bucketer truncates timestamps to multiples of a fixed width.
// The zero value is not usable; construct one with New.
type Bucketer struct {
	width int64
}

// New returns a Bucketer for width.
func New(width time.Duration) (Bucketer, error) {
	if width <= 0 || width%time.Second != 0 {
		return Bucketer{}, fmt.Errorf("%w: %s", ErrInvalidWidth, width)
	}
	return Bucketer{width: int64(width / time.Second)}, nil
}

// Width returns the bucket width.
func (b Bucketer) Width() time.Duration {
	return time.Duration(b.width) * time.Second
}

// Key returns the key of the bucket containing t: the nearest lower multiple
// of the width, counted from the Unix epoch in UTC.
func (b Bucketer) Key(t time.Time) Key {
	s := t.Unix()
	q := s / b.width
	if s%b.width < 0 {
		q--
	}
	return Key(q * b.width)
}

// Floor returns the start of the bucket containing t.
func (b Bucketer) Floor(t time.Time) time.Time {
	return b.Key(t).Time()
}

// Contains reports whether t falls in the half-open bucket [k, k+width).
func (b Bucketer) Contains(k Key, t time.Time) bool {
	return b.Key(t) == k
}
