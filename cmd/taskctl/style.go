package main

import "github.com/fatih/color"

var (
	Bold     = color.New(color.Bold).SprintFunc()
	Dim      = color.New(color.Faint).SprintFunc()
	Green    = color.New(color.FgGreen).SprintFunc()
	Red      = color.New(color.FgRed).SprintFunc()
	Yellow   = color.New(color.FgYellow).SprintFunc()
	BoldCyan = color.New(color.Bold, color.FgCyan).SprintFunc()
)

// StatusColor renders a task status in its display color.
func StatusColor(s string) string {
	switch s {
	case "Completed":
		return Green(s)
	case "Blocked":
		return Red(s)
	case "In_Progress":
		return Yellow(s)
	}
	return s
}
