package main

import (
	"os"

	"sos-guardian/cmd/guardianctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
