package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/you112ef/boltcache/auth"
)

type tokenCmd struct {
	Secret   string        `help:"HMAC secret the server verifies with." env:"BOLTCACHE_JWT_SECRET" required:""`
	Subject  string        `help:"Token subject, logged as the caller's principal." default:"admin"`
	Issuer   string        `help:"iss claim. Must match auth.jwt-issuer when that is set."`
	Audience string        `help:"aud claim. Must match auth.jwt-audience when that is set."`
	Roles    []string      `help:"Roles to grant, comma separated."`
	TTL      time.Duration `help:"Token lifetime. Zero never expires." default:"1h"`
}

func (cmd *tokenCmd) Run() error {
	if len(cmd.Secret) < 16 {
		return errors.New("secret must be at least 16 bytes")
	}
	token, err := auth.SignToken([]byte(cmd.Secret), auth.TokenSpec{
		Subject:  cmd.Subject,
		Issuer:   cmd.Issuer,
		Audience: cmd.Audience,
		Roles:    cmd.Roles,
		TTL:      cmd.TTL,
	}, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, token)
	return nil
}
