// Package main is the entry point for the cronstore scheduler node.
package main

import (
	"os"

	"github.com/djlord-it/cronstore/cmd/cronstore/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
