// Package main is the entry point for the satchel inventory capture tool.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/satchel/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
