package display

import (
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// Alignment represents column alignment options
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// BorderStyle defines table border characters
type BorderStyle struct {
	TopLeft, TopRight, BottomLeft, BottomRight string
	Horizontal, Vertical                       string
	Cross, TopTee, BottomTee, LeftTee, RightTee string
}

// TableStyle defines the visual style of a table
type TableStyle struct {
	Name            string
	Border          BorderStyle
	HeaderSeparator bool
	Padding         int
	MaxWidth        int
}

var (
	asciiBorder = BorderStyle{
		TopLeft: "+", TopRight: "+", BottomLeft: "+", BottomRight: "+",
		Horizontal: "-", Vertical: "|",
		Cross: "+", TopTee: "+", BottomTee: "+", LeftTee: "+", RightTee: "+",
	}
	roundedBorder = BorderStyle{
		TopLeft: "╭", TopRight: "╮", BottomLeft: "╰", BottomRight: "╯",
		Horizontal: "─", Vertical: "│",
		Cross: "┼", TopTee: "┬", BottomTee: "┴", LeftTee: "├", RightTee: "┤",
	}
)

var (
	DefaultTableStyle = TableStyle{Name: "default", Border: asciiBorder, HeaderSeparator: true, Padding: 1}
	RoundedTableStyle = TableStyle{Name: "rounded", Border: roundedBorder, HeaderSeparator: true, Padding: 1}
	MinimalTableStyle = TableStyle{Name: "minimal", Padding: 1}
)

// Table renders rows as an aligned text table. Cells wider than their share
// of the terminal are truncated with an ellipsis.
type Table struct {
	headers    []string
	rows       [][]string
	alignments map[int]Alignment
	style      TableStyle
	colors     ColorSystem
	termWidth  int
}

// NewTable creates an empty table
func NewTable(colors ColorSystem, style TableStyle) *Table {
	return &Table{
		alignments: make(map[int]Alignment),
		style:      style,
		colors:     colors,
		termWidth:  terminalWidth(),
	}
}

// SetHeaders sets the header row
func (t *Table) SetHeaders(headers ...string) *Table {
	t.headers = headers
	return t
}

// AddRow appends a row
func (t *Table) AddRow(cells ...string) *Table {
	t.rows = append(t.rows, cells)
	return t
}

// SetAlignment aligns a column
func (t *Table) SetAlignment(column int, alignment Alignment) *Table {
	t.alignments[column] = alignment
	return t
}

// Render returns the table as text
func (t *Table) Render() string {
	if len(t.headers) == 0 && len(t.rows) == 0 {
		return ""
	}
	widths := t.fit(t.columnWidths())
	b := t.style.Border

	var out strings.Builder
	if b.Horizontal != "" {
		out.WriteString(t.border(widths, b.TopLeft, b.TopTee, b.TopRight))
	}
	if len(t.headers) > 0 {
		out.WriteString(t.row(t.headers, widths, true))
		if t.style.HeaderSeparator && b.Horizontal != "" {
			out.WriteString(t.border(widths, b.LeftTee, b.Cross, b.RightTee))
		}
	}
	for _, r := range t.rows {
		out.WriteString(t.row(r, widths, false))
	}
	if b.Horizontal != "" {
		out.WriteString(t.border(widths, b.BottomLeft, b.BottomTee, b.BottomRight))
	}
	return out.String()
}

// RenderTo writes the table to w
func (t *Table) RenderTo(w io.Writer) error {
	_, err := io.WriteString(w, t.Render())
	return err
}

func (t *Table) columnCount() int {
	n := len(t.headers)
	for _, r := range t.rows {
		if len(r) > n {
			n = len(r)
		}
	}
	return n
}

// columnWidths measures content widths, padding excluded
func (t *Table) columnWidths() []int {
	widths := make([]int, t.columnCount())
	measure := func(cells []string) {
		for i, c := range cells {
			if w := utf8.RuneCountInString(c); w > widths[i] {
				widths[i] = w
			}
		}
	}
	measure(t.headers)
	for _, r := range t.rows {
		measure(r)
	}
	return widths
}

// fit shrinks the widest columns until the table fits the width limit
func (t *Table) fit(widths []int) []int {
	limit := t.style.MaxWidth
	if t.termWidth > 0 && (limit == 0 || t.termWidth < limit) {
		limit = t.termWidth
	}
	if limit <= 0 || len(widths) == 0 {
		return widths
	}

	const minWidth = 4
	overhead := len(widths) * t.style.Padding * 2
	if t.style.Border.Vertical != "" {
		overhead += len(widths) + 1
	}
	total := func() int {
		sum := overhead
		for _, w := range widths {
			sum += w
		}
		return sum
	}
	for total() > limit {
		widest := 0
		for i, w := range widths {
			if w > widths[widest] {
				widest = i
			}
		}
		if widths[widest] <= minWidth {
			break
		}
		widths[widest]--
	}
	return widths
}

func (t *Table) border(widths []int, left, mid, right string) string {
	h := t.style.Border.Horizontal
	parts := make([]string, len(widths))
	for i, w := range widths {
		parts[i] = strings.Repeat(h, w+t.style.Padding*2)
	}
	return left + strings.Join(parts, mid) + right + "\n"
}

func (t *Table) row(cells []string, widths []int, header bool) string {
	v := t.style.Border.Vertical
	pad := strings.Repeat(" ", t.style.Padding)

	var out strings.Builder
	out.WriteString(v)
	for i, w := range widths {
		var cell string
		if i < len(cells) {
			cell = truncate(cells[i], w)
		}
		fill := strings.Repeat(" ", w-utf8.RuneCountInString(cell))
		if header && t.colors != nil {
			cell = t.colors.Colorize(cell, t.colors.Theme().Primary)
		}
		out.WriteString(pad)
		if t.alignments[i] == AlignRight {
			out.WriteString(fill + cell)
		} else {
			out.WriteString(cell + fill)
		}
		out.WriteString(pad)
		if v != "" {
			out.WriteString(v)
		} else if i < len(widths)-1 {
			out.WriteString(" ")
		}
	}
	return strings.TrimRight(out.String(), " ") + "\n"
}

func truncate(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	runes := []rune(s)
	if width > 3 {
		return string(runes[:width-3]) + "..."
	}
	return string(runes[:width])
}

// terminalWidth returns the stdout width, or 0 when stdout is not a terminal
func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 0
	}
	return width
}
