package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
)

// Terminal color palette
var (
	// Primary colors
	clrDim    = color.New(color.FgHiBlack)
	clrSubtle = color.New(color.FgWhite)

	// Accent colors
	clrPrimary = color.New(color.FgMagenta, color.Bold)
	clrAccent  = color.New(color.FgCyan, color.Bold)

	// Status colors
	clrSuccess = color.New(color.FgGreen)
	clrError   = color.New(color.FgRed)
	clrWarning = color.New(color.FgYellow)
	clrInfo    = color.New(color.FgBlue)

	// Badge styles
	badgePrimary = color.New(color.BgMagenta, color.FgWhite, color.Bold)
)

// Box-drawing characters for the banner
const (
	boxTopLeft     = "╭"
	boxTopRight    = "╮"
	boxBottomLeft  = "╰"
	boxBottomRight = "╯"
	boxHorizontal  = "─"
	boxVertical    = "│"
)

// Success returns success-styled text
func Success(format string, a ...interface{}) string {
	return clrSuccess.Sprintf(format, a...)
}

// Warn returns warning-styled text
func Warn(format string, a ...interface{}) string {
	return clrWarning.Sprintf(format, a...)
}

// Muted returns secondary/hint text
func Muted(format string, a ...interface{}) string {
	return clrDim.Sprintf(format, a...)
}

// PrintBanner displays the startup header
func PrintBanner() {
	fmt.Println()

	badge := badgePrimary.Sprint(" ◆ TUNNEL ")
	version := clrDim.Sprint("v1.0.0")

	topBorder := clrDim.Sprint(boxTopLeft + strings.Repeat(boxHorizontal, 60) + boxTopRight)
	fmt.Println(topBorder)

	titleLine := fmt.Sprintf("%s  %s %s  %s",
		clrDim.Sprint(boxVertical),
		badge,
		version,
		clrDim.Sprint(strings.Repeat(" ", 36)+boxVertical))
	fmt.Println(titleLine)

	subtitle := clrSubtle.Sprint("Tunnel Metrics Proxy")
	subtitleLine := fmt.Sprintf("%s  %s%s",
		clrDim.Sprint(boxVertical),
		subtitle,
		clrDim.Sprint(strings.Repeat(" ", 40)+boxVertical))
	fmt.Println(subtitleLine)

	bottomBorder := clrDim.Sprint(boxBottomLeft + strings.Repeat(boxHorizontal, 60) + boxBottomRight)
	fmt.Println(bottomBorder)
	fmt.Println()
}

// LogStatus displays a status message with appropriate styling
func LogStatus(category, message string) {
	ts := clrDim.Sprint(time.Now().Format("15:04:05"))

	var icon string
	var styledMsg string

	switch category {
	case "success":
		icon = clrSuccess.Sprint("✔")
		styledMsg = clrSuccess.Sprint(message)
	case "error":
		icon = clrError.Sprint("✖")
		styledMsg = clrError.Sprint(message)
	case "warn":
		icon = clrWarning.Sprint("⚠")
		styledMsg = clrWarning.Sprint(message)
	case "info":
		icon = clrInfo.Sprint("ℹ")
		styledMsg = clrSubtle.Sprint(message)
	default:
		icon = clrDim.Sprint("●")
		styledMsg = clrSubtle.Sprint(message)
	}

	fmt.Printf("%s  %s  %s\n", ts, icon, styledMsg)
}

// LogRequest displays one proxied request in an aligned line
func LogRequest(method, path, tunnel string, status int, elapsed time.Duration, sent, received int64) {
	ts := clrDim.Sprint(time.Now().Format("15:04:05"))

	statusStyle := clrSuccess
	if status >= 500 {
		statusStyle = clrError
	} else if status >= 400 {
		statusStyle = clrWarning
	}

	fmt.Printf("%s  %s  %s %s %s  %s  %s  %s %s  %s %s\n",
		ts,
		clrSuccess.Sprint("→"),
		clrAccent.Sprintf("%-7s", method),
		clrSubtle.Sprintf("%-24s", path),
		clrDim.Sprintf("%-16s", tunnel),
		statusStyle.Sprintf("%d", status),
		clrDim.Sprintf("%dms", elapsed.Milliseconds()),
		clrDim.Sprint("↑"), clrSubtle.Sprintf("%-8s", formatBytes(sent)),
		clrDim.Sprint("↓"), clrSubtle.Sprintf("%-8s", formatBytes(received)))
}

// LogConnection shows a WebSocket connection event
func LogConnection(event, target string) {
	ts := clrDim.Sprint(time.Now().Format("15:04:05"))

	var icon string
	switch event {
	case "connect":
		icon = clrPrimary.Sprint("◆")
	case "disconnect":
		icon = clrDim.Sprint("◇")
	default:
		icon = clrDim.Sprint("●")
	}

	fmt.Printf("%s  %s  %s\n", ts, icon, clrSubtle.Sprint(target))
}

// LogGracefulShutdown announces shutdown has begun
func LogGracefulShutdown() {
	fmt.Println()
	LogStatus("info", "Shutting down gracefully...")
}

// formatBytes converts bytes to human-readable format
func formatBytes(b int64) string {
	if b < 1024 {
		return fmt.Sprintf("%dB", b)
	}
	if b < 1024*1024 {
		return fmt.Sprintf("%.1fKB", float64(b)/1024)
	}
	if b < 1024*1024*1024 {
		return fmt.Sprintf("%.1fMB", float64(b)/(1024*1024))
	}
	return fmt.Sprintf("%.1fGB", float64(b)/(1024*1024*1024))
}
