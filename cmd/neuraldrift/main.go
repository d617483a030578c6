package main

import (
	"os"

	"github.com/neuraldrift/neuraldrift/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
