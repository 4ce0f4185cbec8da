package main

import (
	"os"

	"github.com/conneroisu/previewkit/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
