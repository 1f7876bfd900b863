package domain

import (
	"fmt"
	"strconv"
	"time"
)

const (
	orderNumberPrefix = "ORD"
	orderNumberDay    = "060102"
	orderNumberLen    = len(orderNumberPrefix) + len(orderNumberDay) + 4
)

// OrderNumberDay returns the date segment of an order number, YYMMDD.
func OrderNumberDay(t time.Time) string {
	return t.Format(orderNumberDay)
}

// OrderNumberPrefix returns the prefix shared by every order number issued
// on the day of t, e.g. ORD240307.
func OrderNumberPrefix(t time.Time) string {
	return orderNumberPrefix + OrderNumberDay(t)
}

// FormatOrderNumber builds ORD + YYMMDD + a 4-digit zero-padded sequence.
// Sequences above 9999 widen the number rather than wrap.
func FormatOrderNumber(t time.Time, seq int) string {
	return fmt.Sprintf("%s%04d", OrderNumberPrefix(t), seq)
}

// ParseOrderNumber splits an order number into its day segment and daily
// sequence.
func ParseOrderNumber(s string) (day string, seq int, err error) {
	if len(s) < orderNumberLen || s[:len(orderNumberPrefix)] != orderNumberPrefix {
		return "", 0, fmt.Errorf("malformed order number %q", s)
	}
	day = s[len(orderNumberPrefix) : len(orderNumberPrefix)+len(orderNumberDay)]
	if _, err := time.Parse(orderNumberDay, day); err != nil {
		return "", 0, fmt.Errorf("malformed order number %q: bad date", s)
	}
	seq, err = strconv.Atoi(s[len(orderNumberPrefix)+len(orderNumberDay):])
	if err != nil || seq < 1 {
		return "", 0, fmt.Errorf("malformed order number %q: bad sequence", s)
	}
	return day, seq, nil
}
