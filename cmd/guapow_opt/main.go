package main

import (
	"fmt"
	"os"

	"github.com/guapow/opt/pkg/cli"
)

// Main entry point for the `guapow_opt` daemon.
func main() {
	optServer, err := cli.NewOptServer()
	if err != nil {
		panic("failed to create an instance of the guapow_opt server")
	}

	if err := optServer.Main(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
