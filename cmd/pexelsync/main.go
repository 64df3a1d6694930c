package main

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"
)

func main() {
	// fang cancels the command context on interrupt, which stops a run
	// cooperatively between pages and batches
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(rootCmd.Version),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}
