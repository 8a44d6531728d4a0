// Command token prints a bearer token for the configured device user.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"backend-walklog/internal/auth"
	"backend-walklog/internal/config"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, config.Load))
}

func run(args []string, out io.Writer, load func() config.Config) int {
	cfg := load()
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	user := fs.String("user", cfg.DeviceUserID, "user id placed in the token")
	ttl := fs.Duration("ttl", auth.DefaultTokenTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	token, err := auth.IssueToken(cfg.JWTSecret, *user, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Fprintln(out, token)
	return 0
}
