package main

import (
	"fmt"
	"io"

	"golang.org/x/term"
)

// isTTY returns true if the given file descriptor is a terminal.
func isTTY(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}

const bannerTagline = "  PostgreSQL over JSON-RPC, read-only unless told otherwise"

// bannerArt is gopgmcp in block letters, split into its "go" and "pgmcp"
// halves.
var bannerArt = [][2]string{
	{` ▄▄▄▄  ▄▄▄  `, `▄▄▄▄   ▄▄▄▄ ▄▄   ▄▄  ▄▄▄▄ ▄▄▄▄ `},
	{`██    ██ ██ `, `██ ██ ██    ███▄███ ██    ██ ██`},
	{`██ ▀█ ██ ██ `, `████  ██ ▀█ ██▀█▀██ ██    ████ `},
	{` ▀▀▀▀  ▀▀▀  `, `██     ▀▀▀▀ ██   ██  ▀▀▀▀ ██   `},
}

// printBanner writes the banner and tagline. With useColor the "go" half is
// cyan, the "pgmcp" half blue and the tagline dimmed.
func printBanner(w io.Writer, useColor bool) {
	fmt.Fprintln(w)
	for _, parts := range bannerArt {
		if useColor {
			fmt.Fprintf(w, "  \033[1;36m%s\033[1;34m%s\033[0m\n", parts[0], parts[1])
		} else {
			fmt.Fprintf(w, "  %s%s\n", parts[0], parts[1])
		}
	}
	fmt.Fprintln(w)
	if useColor {
		fmt.Fprintf(w, "\033[2m%s\033[0m\n\n", bannerTagline)
		return
	}
	fmt.Fprintf(w, "%s\n\n", bannerTagline)
}
