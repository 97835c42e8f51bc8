package main

import (
	"os"

	"github.com/snapscope/snapscope/cmd"
)

// main function remains to call Execute.
func main() {
	cmd.Execute(os.Args[1:])
}
