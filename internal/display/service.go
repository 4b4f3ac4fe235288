// Package display renders command results for terminals and scripts.
package display

import "io"

// DisplayService provides centralized formatting and output management
type DisplayService interface {
	PrintHeader(title string)
	PrintTable(headers []string, rows [][]string)
	PrintRecord(title string, fields []Field)

	Success(message string)
	Warning(message string)
	Error(message string)
	Info(message string)

	RenderIcon(name string) string
	Colors() ColorSystem

	SetOutput(writer io.Writer)
	Writer() io.Writer
	GetConfig() *DisplayConfig
}
