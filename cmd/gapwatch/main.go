package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"price-gap-monitor/internal/cli"
)

func main() {
	// Load environment variables from .env if present.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: could not load .env: %v\n", err)
	}

	cli.Execute()
}
