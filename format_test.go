package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatTime(t *testing.T) {
	now := time.Now()
	sameYear := time.Date(now.Year(), time.March, 15, 10, 30, 0, 0, time.Local)
	diffYear := time.Date(2020, time.December, 25, 8, 0, 0, 0, time.Local)

	t.Run("same year", func(t *testing.T) {
		result := formatTime(sameYear)
		assert.Contains(t, result, "Mar")
		assert.Contains(t, result, "15")
		assert.Contains(t, result, "10:30")
	})

	t.Run("different year", func(t *testing.T) {
		result := formatTime(diffYear)
		assert.Contains(t, result, "Dec")
		assert.Contains(t, result, "25")
		assert.Contains(t, result, "2020")
	})

	t.Run("zero", func(t *testing.T) {
		assert.Equal(t, "never", formatTime(time.Time{}))
	})
}

func TestFormatDue(t *testing.T) {
	now := time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		next time.Time
		want string
	}{
		{"past", now.Add(-time.Hour), "due"},
		{"now", now, "due"},
		{"later today", now.Add(3 * time.Hour), "today"},
		{"tomorrow", now.Add(30 * time.Hour), "in 1 day"},
		{"next week", now.AddDate(0, 0, 6), "in 6 days"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatDue(tt.next, now))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "a b c", truncate("a\n  b\tc", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "żółwżó...", truncate("żółwżółwżółw", 9))
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer

	headers := []string{"ID", "QUESTION", "NEXT"}
	rows := [][]string{
		{"card-1", "What is the capital of France?", "due"},
		{"c2", "2+2", ""},
	}

	printTable(&buf, headers, rows)
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")

	assert.Len(t, lines, 3)
	assert.Equal(t, "ID      QUESTION                        NEXT", lines[0])
	assert.Equal(t, "card-1  What is the capital of France?  due", lines[1])
	assert.Equal(t, "c2      2+2", lines[2], "trailing padding is trimmed")
}
