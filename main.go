// Package main is the entry point for the strata application
package main

import (
	"github.com/ethpandaops/strata/cmd"
)

func main() {
	cmd.Execute()
}
