package main

import (
	"os"

	"github.com/slyt3/GetItDone/cmd/getitdone/commands"
)

func main() {
	if err := commands.NewRoot().Execute(); err != nil {
		os.Exit(1)
	}
}
