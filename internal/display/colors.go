package display

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Color names a terminal color independent of the rendering library
type Color int

const (
	ColorReset Color = iota
	ColorRed
	ColorGreen
	ColorYellow
	ColorBlue
	ColorMagenta
	ColorCyan
	ColorWhite
	ColorBrightRed
	ColorBrightGreen
	ColorBrightYellow
	ColorBrightBlue
	ColorBrightCyan
	ColorBrightWhite
)

// ColorTheme assigns colors to message kinds
type ColorTheme struct {
	Primary   Color
	Success   Color
	Warning   Color
	Error     Color
	Info      Color
	Muted     Color
	Highlight Color
}

// ColorSystem applies theme colors when the terminal supports them
type ColorSystem interface {
	Colorize(text string, clr Color) string
	Sprintf(clr Color, format string, args ...interface{}) string
	IsColorSupported() bool
	Theme() ColorTheme
}

type colorSystem struct {
	theme     ColorTheme
	supported bool
	colors    map[Color]*color.Color
}

var fatihColors = map[Color]color.Attribute{
	ColorRed:          color.FgRed,
	ColorGreen:        color.FgGreen,
	ColorYellow:       color.FgYellow,
	ColorBlue:         color.FgBlue,
	ColorMagenta:      color.FgMagenta,
	ColorCyan:         color.FgCyan,
	ColorWhite:        color.FgWhite,
	ColorBrightRed:    color.FgHiRed,
	ColorBrightGreen:  color.FgHiGreen,
	ColorBrightYellow: color.FgHiYellow,
	ColorBrightBlue:   color.FgHiBlue,
	ColorBrightCyan:   color.FgHiCyan,
	ColorBrightWhite:  color.FgHiWhite,
}

// NewColorSystem creates a color system. Colors are only emitted when
// enabled is set and the terminal supports them.
func NewColorSystem(theme ColorTheme, enabled bool) ColorSystem {
	cs := &colorSystem{
		theme:     theme,
		supported: enabled && detectColorSupport(),
		colors:    make(map[Color]*color.Color, len(fatihColors)),
	}
	for name, attr := range fatihColors {
		c := color.New(attr)
		// fatih/color disables itself for non-tty stdout; detection already happened here
		c.EnableColor()
		cs.colors[name] = c
	}
	return cs
}

// detectColorSupport follows NO_COLOR and FORCE_COLOR, then falls back to
// terminal detection for stdout
func detectColorSupport() bool {
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	fd := os.Stdout.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		return false
	}
	return termenv.EnvColorProfile() != termenv.Ascii
}

func (cs *colorSystem) Colorize(text string, clr Color) string {
	if !cs.supported || clr == ColorReset {
		return text
	}
	if c, ok := cs.colors[clr]; ok {
		return c.Sprint(text)
	}
	return text
}

func (cs *colorSystem) Sprintf(clr Color, format string, args ...interface{}) string {
	return cs.Colorize(fmt.Sprintf(format, args...), clr)
}

func (cs *colorSystem) IsColorSupported() bool {
	return cs.supported
}

func (cs *colorSystem) Theme() ColorTheme {
	return cs.theme
}

// DarkColorTheme suits dark terminals
func DarkColorTheme() ColorTheme {
	return ColorTheme{
		Primary:   ColorBrightBlue,
		Success:   ColorBrightGreen,
		Warning:   ColorBrightYellow,
		Error:     ColorBrightRed,
		Info:      ColorCyan,
		Muted:     ColorWhite,
		Highlight: ColorBrightBlue,
	}
}

// LightColorTheme suits light terminals
func LightColorTheme() ColorTheme {
	return ColorTheme{
		Primary:   ColorBlue,
		Success:   ColorGreen,
		Warning:   ColorYellow,
		Error:     ColorRed,
		Info:      ColorCyan,
		Muted:     ColorMagenta,
		Highlight: ColorBlue,
	}
}

// HighContrastColorTheme uses only bright colors
func HighContrastColorTheme() ColorTheme {
	return ColorTheme{
		Primary:   ColorBrightBlue,
		Success:   ColorBrightGreen,
		Warning:   ColorBrightYellow,
		Error:     ColorBrightRed,
		Info:      ColorBrightCyan,
		Muted:     ColorWhite,
		Highlight: ColorBrightWhite,
	}
}

// PlainTextTheme renders everything uncolored
func PlainTextTheme() ColorTheme {
	return ColorTheme{}
}

// GetThemeByName returns the named theme, dark when unknown
func GetThemeByName(name string) ColorTheme {
	switch ThemeName(name) {
	case ThemeLight:
		return LightColorTheme()
	case ThemeHighContrast:
		return HighContrastColorTheme()
	case ThemePlain:
		return PlainTextTheme()
	default:
		return DarkColorTheme()
	}
}
