package domain

import (
	"fmt"
	"strings"
)

// TradingMode gates which orders the risk gate lets through.
type TradingMode int

const (
	ModeActive TradingMode = iota
	ModePaused
	ModeCloseOnly
	ModeStopped
)

func (m TradingMode) String() string {
	switch m {
	case ModeActive:
		return "active"
	case ModePaused:
		return "paused"
	case ModeCloseOnly:
		return "close_only"
	case ModeStopped:
		return "stopped"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseTradingMode is the inverse of String.
func ParseTradingMode(s string) (TradingMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active":
		return ModeActive, nil
	case "paused":
		return ModePaused, nil
	case "close_only", "closeonly":
		return ModeCloseOnly, nil
	case "stopped":
		return ModeStopped, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m TradingMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *TradingMode) UnmarshalText(text []byte) error {
	parsed, err := ParseTradingMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
