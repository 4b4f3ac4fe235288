package display

import (
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Icon is a status glyph with an ASCII fallback
type Icon struct {
	Unicode string
	ASCII   string
	Color   Color
}

// IconSystem renders icons for the current terminal
type IconSystem interface {
	RenderIcon(name string) string
	RenderIconWithColor(name string, colors ColorSystem) string
	IsUnicodeSupported() bool
}

type iconSystem struct {
	unicode bool
	icons   map[string]Icon
}

var defaultIcons = map[string]Icon{
	"success":  {Unicode: "✓", ASCII: "[OK]", Color: ColorGreen},
	"error":    {Unicode: "✗", ASCII: "[ERROR]", Color: ColorRed},
	"warning":  {Unicode: "⚠", ASCII: "[WARN]", Color: ColorYellow},
	"info":     {Unicode: "ℹ", ASCII: "[INFO]", Color: ColorCyan},
	"archive":  {Unicode: "📦", ASCII: "[ARCHIVE]", Color: ColorBlue},
	"database": {Unicode: "🗄", ASCII: "[DB]", Color: ColorBlue},
	"restore":  {Unicode: "↺", ASCII: "[RESTORE]", Color: ColorMagenta},
}

// NewIconSystem detects unicode support from the environment
func NewIconSystem() IconSystem {
	return &iconSystem{unicode: detectUnicodeSupport(), icons: defaultIcons}
}

func detectUnicodeSupport() bool {
	if os.Getenv("FORCE_UNICODE") != "" {
		return true
	}
	if os.Getenv("NO_UNICODE") != "" {
		return false
	}
	for _, env := range []string{"LC_ALL", "LANG"} {
		if v := os.Getenv(env); v == "C" || v == "POSIX" {
			return false
		} else if v != "" {
			return strings.Contains(strings.ToUpper(v), "UTF")
		}
	}
	switch os.Getenv("TERM") {
	case "dumb", "vt100":
		return false
	}
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func (is *iconSystem) RenderIcon(name string) string {
	icon, ok := is.icons[name]
	if !ok {
		return ""
	}
	if is.unicode {
		return icon.Unicode
	}
	return icon.ASCII
}

func (is *iconSystem) RenderIconWithColor(name string, colors ColorSystem) string {
	rendered := is.RenderIcon(name)
	if rendered == "" || colors == nil {
		return rendered
	}
	return colors.Colorize(rendered, is.icons[name].Color)
}

func (is *iconSystem) IsUnicodeSupported() bool {
	return is.unicode
}
