// Package main provides the gridetl command.
package main

import (
	"os"

	"github.com/leapstack-labs/gridetl/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
