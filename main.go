package main

import (
	"os"

	"caravel/internal/adapters/in/cli"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	cli.SetVersionInfo(version, commit, date)
	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
