// The main package for the aipolicy executable.
package main

import (
	"github.com/JakeFAU/ai-policy-docs/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
