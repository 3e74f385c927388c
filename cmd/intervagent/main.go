package main

import (
	"os"

	"github.com/wwwzy/IntervAgent/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
