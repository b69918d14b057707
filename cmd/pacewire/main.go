package main

import (
	"fmt"
	"os"

	"github.com/pacewire/pacewire/internal/cli/receiver"
	"github.com/pacewire/pacewire/internal/cli/sender"
)

const version = "v0.1.0"

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}
	if hasVersionFlag(args) {
		fmt.Printf("pacewire %s\n", version)
		return
	}

	switch args[0] {
	case "send":
		os.Exit(sender.Run(args[1:]))
	case "recv":
		os.Exit(receiver.Run(args[1:]))
	default:
		if hasHelpFlag(args) {
			printUsage()
			return
		}
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: pacewire <command> [args]")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  send   send one file at a fixed rate")
	fmt.Fprintln(os.Stderr, "  recv   receive files into a directory")
	fmt.Fprintln(os.Stderr, "quick examples:")
	fmt.Fprintln(os.Stderr, "  pacewire recv --listen 0.0.0.0:4433 --out-dir results/recv")
	fmt.Fprintln(os.Stderr, "  pacewire send --connect 127.0.0.1:4433 --in big.bin --mode datagram --rate-mbps 10")
	fmt.Fprintln(os.Stderr, "to learn detailed usage:")
	fmt.Fprintln(os.Stderr, "  pacewire send --help")
	fmt.Fprintln(os.Stderr, "  pacewire recv --help")
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func hasVersionFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--version" || arg == "-v" {
			return true
		}
	}
	return false
}
