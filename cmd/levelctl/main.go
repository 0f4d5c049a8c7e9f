package main

import (
	"context"
	"os"

	"github.com/dmitrijs2005/levelstore/internal/cli"
)

var version = "dev" // set by the linker

func main() {
	if err := cli.Execute(context.Background(), version); err != nil {
		// cobra has already printed the error
		os.Exit(1)
	}
}
