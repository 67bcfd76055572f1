package pipeline

import "fmt"

// Mode selects how pages are acquired and which render path is used.
type Mode int

// Supported modes. The zero value is MultiPage, the default for crawls.
const (
	MultiPage Mode = iota
	SinglePage
	Fallback
)

// String returns the wire name of the mode.
func (m Mode) String() string {
	switch m {
	case MultiPage:
		return "multi-page"
	case SinglePage:
		return "single-page"
	case Fallback:
		return "fallback"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Tag is the filename component for the mode; multi-page artifacts carry none.
func (m Mode) Tag() string {
	switch m {
	case SinglePage, Fallback:
		return "single"
	default:
		return ""
	}
}

// ParseMode maps a wire name to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "multi-page":
		return MultiPage, nil
	case "single-page":
		return SinglePage, nil
	case "fallback":
		return Fallback, nil
	default:
		return 0, fmt.Errorf("%w: unknown mode %q", ErrInput, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
