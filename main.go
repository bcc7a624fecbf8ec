// The main package for the pinsave executable.
package main

import (
	"github.com/JakeFAU/pinsave/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
