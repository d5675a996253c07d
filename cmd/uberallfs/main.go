package main

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/uberallfs/uberallfs/cmd/uberallfs/commands"
)

func main() {
	platformInit()

	if err := commands.Execute(); err != nil {
		os.Exit(commands.ExitCode(err))
	}
}

// platformInit drops 'other' access from everything this process creates.
func platformInit() {
	unix.Umask(unix.S_IRWXO)
}
