package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/davecheney/solo/internal/crypto"
)

type InitCmd struct {
	Force bool `help:"overwrite an existing key"`
}

func (i *InitCmd) Run(ctx *Context) error {
	path := ctx.Node.PrivateKeyFile
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if i.Force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	keypair, err := crypto.GenerateRSAKeypair()
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%s already exists, use --force to replace it", path)
	}
	if err != nil {
		return err
	}
	if _, err := f.Write(keypair.PrivateKey); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	ctx.Logger.Info("generated key", "path", path, "actor", ctx.Node.BaseURL)
	_, err = os.Stdout.Write(keypair.PublicKey)
	return err
}
