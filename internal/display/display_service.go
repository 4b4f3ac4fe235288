package display

import (
	"fmt"
	"io"
	"os"
	"strings"
)

type displayService struct {
	config *DisplayConfig
	colors ColorSystem
	icons  IconSystem
	writer io.Writer
}

// NewDisplayService creates a display service. A nil config uses the defaults.
func NewDisplayService(config *DisplayConfig) DisplayService {
	if config == nil {
		config = DefaultDisplayConfig()
	}
	config.SetDefaults()

	return &displayService{
		config: config,
		colors: NewColorSystem(GetThemeByName(config.Theme), config.IsColorEnabled()),
		icons:  NewIconSystem(),
		writer: config.Writer,
	}
}

func (ds *displayService) structured() (OutputFormatter, bool) {
	format := ds.config.Format()
	if format == FormatTable {
		return nil, false
	}
	formatter, err := NewFormatter(format)
	if err != nil {
		return nil, false
	}
	return formatter, true
}

func (ds *displayService) PrintHeader(title string) {
	if ds.config.QuietMode {
		return
	}
	if _, ok := ds.structured(); ok {
		return
	}
	rule := strings.Repeat("=", len([]rune(title))+4)
	text := fmt.Sprintf("\n%s\n  %s\n%s\n", rule, title, rule)
	fmt.Fprint(ds.writer, ds.colors.Colorize(text, ds.colors.Theme().Primary))
}

// PrintTable renders rows. Structured formats are printed even in quiet
// mode since scripts depend on them.
func (ds *displayService) PrintTable(headers []string, rows [][]string) {
	if formatter, ok := ds.structured(); ok {
		ds.emit(formatter.FormatTable(headers, rows))
		return
	}
	if ds.config.QuietMode {
		return
	}
	table := NewTable(ds.colors, ds.config.tableStyle()).SetHeaders(headers...)
	for _, row := range rows {
		table.AddRow(row...)
	}
	table.RenderTo(ds.writer)
}

// PrintRecord renders named values as a two-column table or a single object
func (ds *displayService) PrintRecord(title string, fields []Field) {
	if formatter, ok := ds.structured(); ok {
		ds.emit(formatter.FormatRecord(title, fields))
		return
	}
	if ds.config.QuietMode {
		return
	}
	if title != "" {
		fmt.Fprintln(ds.writer, ds.colors.Colorize(title, ds.colors.Theme().Highlight))
	}
	table := NewTable(ds.colors, ds.config.tableStyle()).SetAlignment(1, AlignRight)
	for _, f := range fields {
		table.AddRow(f.Key, fmt.Sprint(f.Value))
	}
	table.RenderTo(ds.writer)
}

func (ds *displayService) Success(message string) {
	ds.status("SUCCESS", "success", message, ds.colors.Theme().Success)
}

func (ds *displayService) Warning(message string) {
	ds.status("WARNING", "warning", message, ds.colors.Theme().Warning)
}

// Error is printed even in quiet mode
func (ds *displayService) Error(message string) {
	ds.status("ERROR", "error", message, ds.colors.Theme().Error)
}

func (ds *displayService) Info(message string) {
	if ds.config.QuietMode {
		return
	}
	ds.status("INFO", "info", message, ds.colors.Theme().Info)
}

func (ds *displayService) status(level, icon, message string, clr Color) {
	if formatter, ok := ds.structured(); ok {
		// keep stdout parseable; status lines go to stderr
		out, err := formatter.FormatStatusMessage(level, message)
		if err == nil {
			fmt.Fprint(os.Stderr, out)
		}
		return
	}
	if ds.config.QuietMode && level != "ERROR" {
		return
	}

	prefix := ds.colors.Colorize("["+level+"]", clr)
	if ds.config.IsIconsEnabled() {
		if rendered := ds.icons.RenderIconWithColor(icon, ds.colors); rendered != "" {
			prefix = rendered
		}
	}
	fmt.Fprintf(ds.writer, "%s %s\n", prefix, message)
}

func (ds *displayService) emit(out string, err error) {
	if err != nil {
		fmt.Fprintf(ds.writer, "Error formatting output: %v\n", err)
		return
	}
	fmt.Fprint(ds.writer, out)
}

func (ds *displayService) RenderIcon(name string) string {
	return ds.icons.RenderIcon(name)
}

func (ds *displayService) Colors() ColorSystem {
	return ds.colors
}

func (ds *displayService) SetOutput(writer io.Writer) {
	ds.writer = writer
	ds.config.Writer = writer
}

func (ds *displayService) Writer() io.Writer {
	return ds.writer
}

func (ds *displayService) GetConfig() *DisplayConfig {
	return ds.config
}
