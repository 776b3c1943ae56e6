// Entrypoint for the mapper CLI; delegates to the Cobra root command in cmd/root.go.

package main

import (
	"github.com/conceptmapper/mapcore/cmd"
)

func main() {
	cmd.Execute()
}
