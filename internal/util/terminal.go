package util

import (
	"os"

	"golang.org/x/term"
)

// IsTerminal checks if the given file descriptor is a terminal
func IsTerminal(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}

// StdoutIsTerminal reports whether progress bars and tables can draw on stdout
func StdoutIsTerminal() bool {
	return IsTerminal(os.Stdout.Fd())
}

// TerminalWidth returns the width of the terminal behind fd, or fallback
func TerminalWidth(fd uintptr, fallback int) int {
	width, _, err := term.GetSize(int(fd))
	if err != nil || width <= 0 {
		return fallback
	}
	return width
}
