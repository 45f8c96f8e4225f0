// Command autochain runs and manages AutoChain zaps.
package main

import (
	"fmt"
	"os"

	"github.com/Atif-27/AutoChain/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
