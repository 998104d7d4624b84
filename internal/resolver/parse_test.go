package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int64
		ok      bool
	}{
		{"json size", `{"size": 4096}`, 4096, true},
		{"json total_size", `{"name": "a.iso", "total_size": 700000000}`, 700000000, true},
		{"json key priority", `{"length": 1, "size": 2}`, 2, true},
		{"json string value", `{"filesize": "1234"}`, 1234, true},
		{"json integral float", `{"content_length": 5.0e3}`, 5000, true},
		{"json fractional float skipped", `{"size": 1.5, "length": 10}`, 10, true},
		{"json zero is unknown", `{"size": 0}`, 0, false},
		{"json nested falls back to text", `{"file": {"size": 321}}`, 321, true},
		{"yaml mapping", "name: movie.mkv\nsize: 987654\n", 987654, true},
		{"ini style", "[download]\ncontent_length=55555\n", 55555, true},
		{"case insensitive text", "Total_Size: 42 bytes", 42, true},
		{"no key", `{"name": "a"}`, 0, false},
		{"empty", "   ", 0, false},
		{"unrelated text", "resize to 100", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseSize([]byte(tt.content))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
