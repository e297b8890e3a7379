package common

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

// CheckIfColorable reports whether w is a terminal that should receive ANSI colours.
func CheckIfColorable(w io.Writer) bool {
	if !CheckIfTerminal(w) {
		return false
	}

	// https://no-color.org/
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}

	// https://bixense.com/clicolors/
	if f, ok := os.LookupEnv("CLICOLOR_FORCE"); ok && f != "0" {
		return true
	}

	if c, ok := os.LookupEnv("CLICOLOR"); ok {
		return c != "0"
	}

	if t, ok := os.LookupEnv("TERM"); ok {
		switch t {
		// safeguard against weird terminals
		case "dumb", "unknown", "linux":
			return false
		}
	}

	return true
}

func CheckIfTerminal(w io.Writer) bool {
	switch v := w.(type) {
	case *os.File:
		return term.IsTerminal(int(v.Fd())) || isatty.IsCygwinTerminal(v.Fd())
	default:
		return false
	}
}
