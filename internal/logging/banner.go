package logging

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
)

// ANSI color codes.
const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	cyan   = "\033[36m"
	green  = "\033[32m"
	dim    = "\033[2m"
)

var logoLines = [6]string{
	`  ____ _                 _                     `,
	` / ___| | __ _ _   _  __| | ___ _ __ ___  _ __  `,
	`| |   | |/ _` + "`" + ` | | | |/ _` + "`" + ` |/ _ \ '__/ _ \| '_ \ `,
	`| |___| | (_| | |_| | (_| |  __/ | | (_) | | | |`,
	` \____|_|\__,_|\__,_|\__,_|\___|_|  \___/|_| |_|`,
	`                                                  `,
}

// PrintBanner prints the daemon's ASCII art logo, version, and the
// control-socket path it is about to bind. Colors are used only when
// stderr is a TTY.
func PrintBanner(ver, socketPath string) {
	color := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	for _, line := range logoLines {
		if color {
			fmt.Fprintf(os.Stderr, "%s%s%s\n", bold+cyan, line, reset)
		} else {
			fmt.Fprintln(os.Stderr, line)
		}
	}
	if color {
		fmt.Fprintf(os.Stderr, "\n  %sversion%s %s   %ssocket%s %s\n\n",
			dim, reset, ver, dim, reset, socketPath)
	} else {
		fmt.Fprintf(os.Stderr, "\n  version %s   socket %s\n\n", ver, socketPath)
	}
}
