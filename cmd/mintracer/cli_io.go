package main

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"
)

// stdinIsTerminal reports whether a human can answer prompts.
func stdinIsTerminal() bool {
	return term.IsTerminal(int(syscall.Stdin))
}

func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

func printSampleUsage(progname string) {
	fmt.Printf("\n")
	fmt.Printf("Sample usage:                  %s --rpc-url ws://127.0.0.1:8546 --contract 0x... --function 'mint(uint256)' --args 1\n", progname)
	fmt.Printf("Live mode:                     %s ... --dry-run=false (private key from MINT_PRIVATE_KEY or prompt)\n", progname)
}
