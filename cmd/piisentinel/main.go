// Command piisentinel detects and redacts PII in uploaded tabular files.
package main

import (
	"os"

	"github.com/gonkalabs/pii-sentinel/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
