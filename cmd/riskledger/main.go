package main

import (
	"io"
	"os"

	"github.com/davidahmann/riskledger/internal/cli"
)

func main() {
	exitFn(run(os.Args, os.Stdout, os.Stderr))
}

var exitFn = os.Exit

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	return cli.Execute(args[1:], stdout, stderr)
}
