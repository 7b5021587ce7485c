package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

var (
	colorGreen  = color.New(color.FgGreen)
	colorYellow = color.New(color.FgYellow)
	colorRed    = color.New(color.FgRed, color.Bold)
	colorBold   = color.New(color.Bold)
	colorDim    = color.New(color.Faint)
)

// initColors disables color when requested or when stdout is not a terminal
func initColors(disabled bool) {
	if disabled || !isatty.IsTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}
}

func header(title string) {
	_, _ = colorBold.Println(title)
}

func label(s string) string {
	return colorBold.Sprint(s)
}

func dim(s string) string {
	return colorDim.Sprint(s)
}

func errorf(format string, args ...interface{}) {
	_, _ = colorRed.Fprint(os.Stderr, "Error: ")
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}

// interactive reports whether progress bars should be drawn
func interactive(globals GlobalFlags) bool {
	return !globals.Quiet && isatty.IsTerminal(os.Stderr.Fd())
}

// newProgressBar returns a bar on stderr, or nil when output is not interactive
func newProgressBar(globals GlobalFlags, total int, description string) *progressbar.ProgressBar {
	if !interactive(globals) {
		return nil
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionEnableColorCodes(!color.NoColor),
	)
}
