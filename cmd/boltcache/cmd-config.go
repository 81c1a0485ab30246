package main

import (
	"errors"
	"flag"
	"os"
)

type configCmd struct {
	Args []string `arg:"" optional:"" help:"Configuration flags, as for serve."`
}

func (cmd *configCmd) Run() error {
	cfg, err := loadConfig(cmd.Args)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	out, err := cfg.Redacted().Marshal()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}
