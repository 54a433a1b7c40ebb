package state

import (
	"errors"
	"fmt"
	"math"
	"regexp"
)

// Kind says what an ActionRecord does when it is replayed.
type Kind uint8

const (
	KindStrokePoint Kind = iota // extends the current path to (x, y)
	KindBeginPath               // starts a new path
	KindClear                   // wipes the canvas
)

var kindNames = map[Kind]string{
	KindStrokePoint: "point",
	KindBeginPath:   "beginPath",
	KindClear:       "clear",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("unknown kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	for kind, name := range kindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown kind %q", b)
}

// Style is the brush style a point was drawn with.
type Style uint8

const (
	StyleNormal Style = iota
	StyleBlurred
	StyleDotted
)

var styleNames = map[Style]string{
	StyleNormal:  "normal",
	StyleBlurred: "blurred",
	StyleDotted:  "dotted",
}

func (s Style) String() string {
	if n, ok := styleNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Style(%d)", uint8(s))
}

func (s Style) MarshalText() ([]byte, error) {
	if _, ok := styleNames[s]; !ok {
		return nil, fmt.Errorf("unknown style %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Style) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*s = StyleNormal
		return nil
	}
	for style, name := range styleNames {
		if name == string(b) {
			*s = style
			return nil
		}
	}
	return fmt.Errorf("unknown style %q", b)
}

// ActionRecord is one immutable drawing event in a session log.
// Coordinates are fractions of the canvas size so every participant can
// replay them at its own resolution.
type ActionRecord struct {
	Kind     Kind    `json:"kind,omitempty"`
	XPercent float64 `json:"xPercent"`
	YPercent float64 `json:"yPercent"`
	Color    string  `json:"color"`
	Size     float64 `json:"size"`
	Style    Style   `json:"type,omitempty"`
}

// BeginPath returns the marker record that opens a new path.
func BeginPath() ActionRecord {
	return ActionRecord{Kind: KindBeginPath}
}

var (
	ErrInvalidCoordinate = errors.New("coordinate out of range")
	ErrInvalidColor      = errors.New("invalid color")
	ErrInvalidSize       = errors.New("invalid size")
)

var hexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// Validate checks a stroke point. Markers carry no geometry and always pass.
func (r ActionRecord) Validate() error {
	if r.Kind != KindStrokePoint {
		return nil
	}
	if !inUnit(r.XPercent) || !inUnit(r.YPercent) {
		return fmt.Errorf("%w: (%v, %v)", ErrInvalidCoordinate, r.XPercent, r.YPercent)
	}
	if !hexColor.MatchString(r.Color) {
		return fmt.Errorf("%w: %q", ErrInvalidColor, r.Color)
	}
	if math.IsNaN(r.Size) || math.IsInf(r.Size, 0) || r.Size <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidSize, r.Size)
	}
	if _, ok := styleNames[r.Style]; !ok {
		return fmt.Errorf("unknown style %d", uint8(r.Style))
	}
	return nil
}

func inUnit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
