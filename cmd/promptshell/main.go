// promptshell drives interactive SSH shells and network device CLIs by
// waiting for the prompt after every command.
package main

import (
	"os"

	"github.com/acolita/promptshell/internal/cli"
)

// Version is set at build time.
var Version = "dev"

func main() {
	if Version != "dev" {
		cli.Version = Version
	}
	os.Exit(cli.Execute())
}
