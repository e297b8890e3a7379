package main

import (
	"github.com/nektos/actions-toolkit/cmd"
	"github.com/nektos/actions-toolkit/pkg/common"
)

var version string

func main() {
	ctx, cancel := common.CreateGracefulCancellationContext()
	defer cancel()

	// run the command
	cmd.Execute(ctx, version)
}
