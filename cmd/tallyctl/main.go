package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/tallybridge/tallybridge/cmd/tallyctl/cli"
)

func main() {
	_ = godotenv.Load()
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tallyctl: %v\n", err)
		os.Exit(1)
	}
}
