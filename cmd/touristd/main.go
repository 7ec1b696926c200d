// Command touristd runs the tourist cache gateway, the mutator that applies
// commands to the tourist store, and one-shot lookups and mutations.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
