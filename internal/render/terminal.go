package render

import (
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

const (
	escClear        = "\x1b[2J"
	escHome         = "\x1b[H"
	escHideCursor   = "\x1b[?25l"
	escShowCursor   = "\x1b[?25h"
	escEnterAlt     = "\x1b[?1049h"
	escExitAltReset = "\x1b[?1049l\x1b[0m"
)

func enterScreen(w io.Writer) {
	_, _ = io.WriteString(w, escEnterAlt+escClear+escHome+escHideCursor)
}

func leaveScreen(w io.Writer) {
	_, _ = io.WriteString(w, escShowCursor+escExitAltReset)
}

// terminalSize reports the size of the controlling terminal on stdout.
func terminalSize() (int, int, bool) {
	fd := int(os.Stdout.Fd())
	if fd < 0 || !term.IsTerminal(fd) {
		return 0, 0, false
	}
	w, h, err := term.GetSize(fd)
	if err != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

func statusBar(text string, width int) string {
	if width <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) >= width {
		return string(runes[:width])
	}
	return text + strings.Repeat(" ", width-len(runes))
}
