package display

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// DisplayConfig holds configuration for terminal output
type DisplayConfig struct {
	ColorEnabled  bool   `mapstructure:"color_enabled" yaml:"color_enabled"`
	Theme         string `mapstructure:"theme" yaml:"theme"`
	OutputFormat  string `mapstructure:"output_format" yaml:"output_format"`
	UseIcons      bool   `mapstructure:"use_icons" yaml:"use_icons"`
	TableStyle    string `mapstructure:"table_style" yaml:"table_style"`
	MaxTableWidth int    `mapstructure:"max_table_width" yaml:"max_table_width"`

	VerboseMode bool `mapstructure:"verbose" yaml:"-"`
	QuietMode   bool `mapstructure:"quiet" yaml:"-"`

	Writer io.Writer `mapstructure:"-" yaml:"-"`
}

// ThemeName represents available color themes
type ThemeName string

const (
	ThemeDark         ThemeName = "dark"
	ThemeLight        ThemeName = "light"
	ThemeHighContrast ThemeName = "high-contrast"
	ThemePlain        ThemeName = "plain"
)

// TableStyleName represents available table styles
type TableStyleName string

const (
	TableStyleDefault TableStyleName = "default"
	TableStyleRounded TableStyleName = "rounded"
	TableStyleMinimal TableStyleName = "minimal"
)

// DefaultDisplayConfig returns the configuration used when nothing is set
func DefaultDisplayConfig() *DisplayConfig {
	cfg := &DisplayConfig{ColorEnabled: true, UseIcons: true}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills unset values
func (dc *DisplayConfig) SetDefaults() {
	if dc.Theme == "" {
		dc.Theme = string(ThemeDark)
	}
	if dc.OutputFormat == "" {
		dc.OutputFormat = string(FormatTable)
	}
	dc.OutputFormat = strings.ToLower(dc.OutputFormat)
	if dc.TableStyle == "" {
		dc.TableStyle = string(TableStyleDefault)
	}
	if dc.MaxTableWidth == 0 {
		dc.MaxTableWidth = 120
	}
	if dc.Writer == nil {
		dc.Writer = os.Stdout
	}
}

// Validate reports every invalid option at once
func (dc *DisplayConfig) Validate() error {
	var errs []error

	switch ThemeName(dc.Theme) {
	case ThemeDark, ThemeLight, ThemeHighContrast, ThemePlain:
	default:
		errs = append(errs, fmt.Errorf("invalid theme %q, must be one of: dark, light, high-contrast, plain", dc.Theme))
	}

	if _, err := ParseOutputFormat(dc.OutputFormat); err != nil {
		errs = append(errs, err)
	}

	switch TableStyleName(dc.TableStyle) {
	case TableStyleDefault, TableStyleRounded, TableStyleMinimal:
	default:
		errs = append(errs, fmt.Errorf("invalid table style %q, must be one of: default, rounded, minimal", dc.TableStyle))
	}

	if dc.MaxTableWidth < 40 || dc.MaxTableWidth > 300 {
		errs = append(errs, fmt.Errorf("max table width must be between 40 and 300, got %d", dc.MaxTableWidth))
	}
	if dc.VerboseMode && dc.QuietMode {
		errs = append(errs, errors.New("verbose and quiet modes are mutually exclusive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("display configuration validation failed: %w", errors.Join(errs...))
	}
	return nil
}

// Format returns the configured output format, falling back to table
func (dc *DisplayConfig) Format() OutputFormat {
	format, err := ParseOutputFormat(dc.OutputFormat)
	if err != nil {
		return FormatTable
	}
	return format
}

// IsColorEnabled reports whether colors should be used
func (dc *DisplayConfig) IsColorEnabled() bool {
	return dc.ColorEnabled && !dc.QuietMode && dc.Format() == FormatTable
}

// IsIconsEnabled reports whether status lines carry icons
func (dc *DisplayConfig) IsIconsEnabled() bool {
	return dc.UseIcons && !dc.QuietMode
}

func (dc *DisplayConfig) tableStyle() TableStyle {
	var style TableStyle
	switch TableStyleName(dc.TableStyle) {
	case TableStyleRounded:
		style = RoundedTableStyle
	case TableStyleMinimal:
		style = MinimalTableStyle
	default:
		style = DefaultTableStyle
	}
	style.MaxWidth = dc.MaxTableWidth
	return style
}
