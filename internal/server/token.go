package server

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/medvault/internal/auth"
	"github.com/dmitrijs2005/medvault/internal/config"
	"github.com/dmitrijs2005/medvault/internal/flagx"
	"github.com/dmitrijs2005/medvault/internal/models"
)

const defaultTokenTTL = time.Hour

var errMissingSubject = errors.New("token: -sub is required")

// IssueToken signs a bearer token with the daemon's JWT secret and writes it
// to w. It stands in for the identity provider in development setups.
//
//	medvaultd token -sub patient-1 -email jane@example.com -name "Jane Doe" -ttl 30m
func IssueToken(cfg *config.Config, args []string, w io.Writer) error {
	var (
		id  models.Identity
		ttl time.Duration
	)

	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&id.UserID, "sub", "", "user id")
	fs.StringVar(&id.Email, "email", "", "email for verification codes")
	fs.StringVar(&id.Name, "name", "", "display name")
	fs.DurationVar(&ttl, "ttl", defaultTokenTTL, "token lifetime")

	if err := fs.Parse(flagx.FilterArgs(args, []string{"-sub", "-email", "-name", "-ttl"})); err != nil {
		return fmt.Errorf("token: %w", err)
	}
	if id.UserID == "" {
		return errMissingSubject
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	token, err := auth.GenerateToken(id, []byte(cfg.HTTP.JWTSecret), ttl)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	_, err = fmt.Fprintln(w, token)
	return err
}
