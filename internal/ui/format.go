package ui

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	usdPrinter = message.NewPrinter(language.English)
	idrPrinter = message.NewPrinter(language.Indonesian)
)

// FormatUSD renders 1234.5 as "$1,234.50".
func FormatUSD(v float64) string {
	return usdPrinter.Sprintf("$%.2f", v)
}

// FormatIDR renders 1234567 as "Rp 1.234.567".
func FormatIDR(v float64) string {
	return idrPrinter.Sprintf("Rp %.0f", v)
}

// FormatCarat renders 0.5 as "0.50 ct".
func FormatCarat(v float64) string {
	return fmt.Sprintf("%.2f ct", v)
}

// FormatTable renders 57 as "57.0%".
func FormatTable(v float64) string {
	return fmt.Sprintf("%.1f%%", v)
}

// FormatPercent renders a signed change such as "+12.3%".
func FormatPercent(v float64) string {
	return fmt.Sprintf("%+.1f%%", v)
}
