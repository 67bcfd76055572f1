package render

import (
	"fmt"
	"strings"
)

// Paper is a page size.
type Paper struct {
	Name     string
	WidthIn  float64
	HeightIn float64
}

// Supported paper sizes.
var (
	A4     = Paper{Name: "A4", WidthIn: 8.27, HeightIn: 11.69}
	Letter = Paper{Name: "Letter", WidthIn: 8.5, HeightIn: 11}
)

// PaperByName resolves a configured paper size, defaulting to A4.
func PaperByName(name string) (Paper, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "a4":
		return A4, nil
	case "letter":
		return Letter, nil
	default:
		return Paper{}, fmt.Errorf("unsupported paper size %q", name)
	}
}
