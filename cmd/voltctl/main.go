package main

import (
	"os"

	"github.com/marmos91/voltclient/cmd/voltctl/commands"

	// Import prometheus metrics to register init() functions
	_ "github.com/marmos91/voltclient/pkg/metrics/prometheus"
)

func main() {
	if err := commands.Execute(); err != nil {
		commands.PrintErr("%v", err)
		os.Exit(1)
	}
}
