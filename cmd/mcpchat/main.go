// Package main provides the entry point for the mcpchat CLI.
package main

import (
	"fmt"
	"os"

	"github.com/telnet2/mcpchat/cmd/mcpchat/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
