package main

import (
	"os"

	"github.com/harun/mission-control/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
