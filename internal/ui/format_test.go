package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"usd", FormatUSD(1234.56), "$1,234.56"},
		{"usd small", FormatUSD(0.5), "$0.50"},
		{"usd million", FormatUSD(1234567.891), "$1,234,567.89"},
		{"idr", FormatIDR(1234567), "Rp 1.234.567"},
		{"idr small", FormatIDR(999), "Rp 999"},
		{"carat", FormatCarat(0.5), "0.50 ct"},
		{"table", FormatTable(57), "57.0%"},
		{"percent up", FormatPercent(12.34), "+12.3%"},
		{"percent down", FormatPercent(-5), "-5.0%"},
		{"percent zero", FormatPercent(0), "+0.0%"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.got)
		})
	}
}
