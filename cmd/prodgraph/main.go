package main

import (
	"fmt"
	"os"

	"github.com/me/prodgraph/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "prodgraph:", err)
		os.Exit(1)
	}
}
