package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/lmoretti/filo/internal/daemon"
	"github.com/lmoretti/filo/internal/paths"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	flag.Parse()

	profile := paths.Resolve(*profileFlag)
	if err := paths.ValidateName(profile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{ProfileName: profile}),
	)

	app.Run()
}
