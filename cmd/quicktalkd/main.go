package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/elizkhv/quicktalk/internal/config"
	"github.com/elizkhv/quicktalk/internal/daemon"
	"github.com/elizkhv/quicktalk/internal/profile"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	addrFlag := flag.String("addr", "", "listen address (overrides config)")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		cfg = config.Default()
	}
	if *addrFlag != "" {
		cfg.ListenAddr = *addrFlag
	}
	if cfg.JWTSecret == "" {
		fmt.Fprintf(os.Stderr, "error: jwt_secret is not set in %s\n", profile.ConfigPath())
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{ProfileName: profileName, Config: cfg}),
	)

	app.Run()
}
