// Command iopet runs the desktop pet in the terminal.
package main

import (
	"os"

	"github.com/MrWong99/iopet/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
