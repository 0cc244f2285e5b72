package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/alexflint/go-arg"
	"github.com/fatih/color"
)

// Exit codes
const (
	ExitSuccess           = 0
	ExitGeneralError      = 1
	ExitInvalidArgs       = 2
	ExitNotAccessible     = 3
	ExitRangeNotSupported = 4
	ExitStorageError      = 5
	ExitInterrupted       = 6
)

type cliArgs struct {
	Config  string `arg:"--config,env:GULP_CONFIG" help:"YAML configuration file"`
	EnvFile string `arg:"--env-file" help:"load environment variables from this file instead of ./.env"`
	NoColor bool   `arg:"--no-color" help:"disable colored status output"`

	Get *getArgs `arg:"subcommand:get" help:"download objects to local files"`
}

func (cliArgs) Description() string {
	return "gulp downloads objects from object storage using parallel ranged reads."
}

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	var a cliArgs
	p, err := arg.NewParser(arg.Config{Program: "gulp"}, &a)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitGeneralError
	}

	if err := p.Parse(args); err != nil {
		if errors.Is(err, arg.ErrHelp) {
			p.WriteHelp(stderr)
			return ExitSuccess
		}
		p.WriteUsage(stderr)
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	if a.NoColor {
		color.NoColor = true
	}

	switch {
	case a.Get != nil:
		return runGet(a, stderr)
	default:
		p.WriteHelp(stderr)
		return ExitInvalidArgs
	}
}
