package main

import (
	"os"

	"github.com/BradenHooton/tokenlink/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
