package main

import (
	"os"

	"github.com/roadrl/harness/cmd/harness/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
