package main

import (
	"os"

	"github.com/inletfeed/inlet/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
