// File: main.go
package main

import (
	"os"

	"github.com/xkilldash9x/browserd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
