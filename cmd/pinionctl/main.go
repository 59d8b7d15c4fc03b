package main

import (
	"os"

	"github.com/luciancaetano/pinion/cmd/pinionctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
