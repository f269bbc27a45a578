package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{2048, "2.0 KB"},
		{5 * sizeMB, "5.0 MB"},
		{3 * sizeGB, "3.0 GB"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, formatSize(tt.bytes))
	}
}

func TestFormatTime(t *testing.T) {
	now := time.Now()

	sameYear := formatTime(now)
	assert.NotContains(t, sameYear, now.Format("2006"))

	old := time.Date(2019, time.March, 5, 10, 0, 0, 0, time.UTC)
	assert.Contains(t, formatTime(old), "2019")
}

func TestPrintTable(t *testing.T) {
	var sb strings.Builder

	printTable(&sb, []string{"ID", "STATUS"}, [][]string{
		{"proc-1", "completed"},
		{"proc-22", "failed"},
	})

	lines := strings.Split(strings.TrimRight(sb.String(), "\n"), "\n")
	assert.Len(t, lines, 3)
	assert.Equal(t, "ID       STATUS", strings.TrimRight(lines[0], " "))
	assert.Equal(t, "proc-22  failed", strings.TrimRight(lines[2], " "))
}
