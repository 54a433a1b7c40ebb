package export

import (
	"fmt"
	"io"
	"strconv"

	"github.com/jung-kurt/gofpdf"

	"SharedBoard/internal/state"
)

const (
	pageW, pageH = 297.0, 210.0 // A4 landscape, mm
	margin       = 10.0
	header       = 8.0
	pxToMM       = 0.2646
)

// WritePDF renders a replayable record sequence onto A4 landscape pages,
// starting a new page at every clear. Coordinates are fractions of the
// drawing area, so the page keeps the layout participants saw regardless of
// their screen size.
func WritePDF(w io.Writer, title string, records []state.ActionRecord) error {
	p := gofpdf.New("L", "mm", "A4", "")
	p.SetTitle(title, true)
	p.SetLineCapStyle("round")
	p.SetLineJoinStyle("round")

	marks, pages := plan(records)
	areaW := pageW - 2*margin
	areaH := pageH - 2*margin - header
	x := func(r state.ActionRecord) float64 { return margin + r.XPercent*areaW }
	y := func(r state.ActionRecord) float64 { return margin + header + r.YPercent*areaH }

	page := -1
	for _, m := range marks {
		for page < m.page {
			newPage(p, title)
			page++
		}
		applyBrush(p, m.to)
		if m.dot {
			p.Circle(x(m.to), y(m.to), m.to.Size*pxToMM/2, "F")
			continue
		}
		p.Line(x(m.from), y(m.from), x(m.to), y(m.to))
	}
	for page < pages-1 {
		newPage(p, title)
		page++
	}
	return p.Output(w)
}

// mark is one drawing primitive: a segment between consecutive points of a
// path, or a dot for a path that has a single point.
type mark struct {
	page     int
	from, to state.ActionRecord
	dot      bool
}

func plan(records []state.ActionRecord) (marks []mark, pages int) {
	page := 0
	var prev *state.ActionRecord
	points := 0
	endPath := func() {
		if points == 1 {
			marks = append(marks, mark{page: page, to: *prev, dot: true})
		}
		prev, points = nil, 0
	}
	for i := range records {
		r := records[i]
		switch r.Kind {
		case state.KindBeginPath:
			endPath()
		case state.KindClear:
			endPath()
			page++
		case state.KindStrokePoint:
			if prev != nil {
				marks = append(marks, mark{page: page, from: *prev, to: r})
			}
			prev = &records[i]
			points++
		}
	}
	endPath()
	return marks, page + 1
}

func newPage(p *gofpdf.Fpdf, title string) {
	p.AddPage()
	p.SetFont("Helvetica", "", 9)
	p.SetTextColor(120, 120, 120)
	p.Text(margin, margin+4, title)
}

func applyBrush(p *gofpdf.Fpdf, r state.ActionRecord) {
	red, green, blue, err := ParseHexColor(r.Color)
	if err != nil {
		red, green, blue = 0, 0, 0
	}
	p.SetDrawColor(red, green, blue)
	p.SetFillColor(red, green, blue)
	p.SetLineWidth(r.Size * pxToMM)
	switch r.Style {
	case state.StyleDotted:
		p.SetDashPattern([]float64{2.6, 2.6}, 0)
		p.SetAlpha(1, "Normal")
	case state.StyleBlurred:
		p.SetDashPattern([]float64{}, 0)
		p.SetAlpha(0.45, "Normal")
	default:
		p.SetDashPattern([]float64{}, 0)
		p.SetAlpha(1, "Normal")
	}
}

// ParseHexColor reads #rgb or #rrggbb.
func ParseHexColor(s string) (r, g, b int, err error) {
	if len(s) == 0 || s[0] != '#' {
		return 0, 0, 0, fmt.Errorf("color %q: missing #", s)
	}
	hex := s[1:]
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return 0, 0, 0, fmt.Errorf("color %q: want 3 or 6 hex digits", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("color %q: %w", s, err)
	}
	return int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff), nil
}
