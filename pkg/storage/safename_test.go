package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeFilename(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected string
	}{
		{
			name:     "plain path",
			url:      "https://example.com/data/report.html",
			expected: "data_report.html",
		},
		{
			name:     "url-encoded path",
			url:      "https://example.com/a%20b.txt",
			expected: "a_b.txt",
		},
		{
			name:     "root path",
			url:      "https://example.com/",
			expected: "index.html",
		},
		{
			name:     "no path",
			url:      "https://example.com",
			expected: "index.html",
		},
		{
			name:     "allowed characters kept",
			url:      "https://h/AZaz09_.-ok",
			expected: "AZaz09_.-ok",
		},
		{
			name:     "query stripped with path kept",
			url:      "https://h/file.json?q=1",
			expected: "file.json",
		},
		{
			name:     "bare relative path",
			url:      "reports/2024/01.csv",
			expected: "reports_2024_01.csv",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SafeFilename(tt.url))
		})
	}
}
