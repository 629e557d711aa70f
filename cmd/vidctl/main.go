// Package main is the operator CLI for the video job queue.
package main

import (
	"os"

	"vidqueue/cmd/vidctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
