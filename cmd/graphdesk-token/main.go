// Command graphdesk-token mints bearer tokens for local development and
// tests, signed with GRAPHDESK_TOKEN_SECRET.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"graphdesk/api/internal/auth"
	"graphdesk/api/internal/config"
	"graphdesk/api/internal/util"
)

func main() {
	if err := newRootCmd(config.Load(), time.Now).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg config.Config, now func() time.Time) *cobra.Command {
	var (
		name           string
		privileges     []string
		authorizations []string
		ttl            time.Duration
	)
	cmd := &cobra.Command{
		Use:   "graphdesk-token <user-id>",
		Short: "Mint a signed bearer token for the graphdesk API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mint(cmd.OutOrStdout(), cfg, auth.Claims{
				Sub:            args[0],
				Name:           name,
				Privileges:     privileges,
				Authorizations: authorizations,
				JTI:            util.NewID(""),
				Exp:            now().Add(ttl).Unix(),
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name carried by the token")
	cmd.Flags().StringSliceVar(&privileges, "privileges", []string{"READ"}, "privileges: READ, EDIT, PUBLISH, ADMIN")
	cmd.Flags().StringSliceVar(&authorizations, "authorizations", nil, "graph authorizations")
	cmd.Flags().DurationVar(&ttl, "ttl", cfg.AccessTTL, "token lifetime")
	return cmd
}

func mint(out io.Writer, cfg config.Config, claims auth.Claims) error {
	if strings.TrimSpace(claims.Name) == "" {
		claims.Name = claims.Sub
	}
	token, err := auth.IssueToken([]byte(cfg.TokenSecret), claims)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
