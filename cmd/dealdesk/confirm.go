package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var assumeYes bool

// addYesFlag registers --yes on a destructive command.
func addYesFlag(cmds ...*cobra.Command) {
	for _, c := range cmds {
		c.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Skip the confirmation prompt")
	}
}

// confirm asks a y/N question on stdin unless --yes was given.
func confirm(prompt string) bool {
	if assumeYes {
		return true
	}
	return confirmFrom(os.Stdin, os.Stdout, prompt)
}

func confirmFrom(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N] ", prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
