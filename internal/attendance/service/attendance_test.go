package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ts(h, m int) time.Time {
	return time.Date(2026, time.March, 2, h, m, 0, 0, time.UTC)
}

func TestComputeWorkedHours(t *testing.T) {
	got := computeWorkedHours(ts(9, 0), ts(17, 30), 30)
	assert.Equal(t, 8.0, got)
}

func TestComputeWorkedHours_NegativeClamped(t *testing.T) {
	got := computeWorkedHours(ts(9, 0), ts(9, 10), 30)
	assert.Equal(t, 0.0, got)
}

func TestLateMinutes(t *testing.T) {
	assert.Equal(t, 0, lateMinutes(ts(8, 45)))
	assert.Equal(t, 0, lateMinutes(ts(9, 0)))
	assert.Equal(t, 15, lateMinutes(ts(9, 15)))
}

func TestEarlyDepartureMinutes(t *testing.T) {
	checkIn := ts(9, 0)
	assert.Equal(t, 0, earlyDepartureMinutes(ts(17, 0), 8, checkIn))
	assert.Equal(t, 30, earlyDepartureMinutes(ts(16, 30), 8, checkIn))
	assert.Equal(t, 0, earlyDepartureMinutes(ts(18, 0), 8, checkIn))
}
