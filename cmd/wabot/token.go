package cli

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/neboloop/wabot/internal/middleware"
)

// TokenCmd issues a web interface token signed with web.auth_secret.
func TokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for the web interface",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cfg.IsAuthEnabled() {
				return fmt.Errorf("web.auth_secret is not set, the web interface is open")
			}
			now := time.Now()
			claims := jwt.RegisteredClaims{
				Issuer:   cfg.App.Name,
				IssuedAt: jwt.NewNumericDate(now),
			}
			if ttl > 0 {
				claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
			}
			tok, err := middleware.SignToken(subject, cfg.Web.AuthSecret, claims)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime, 0 for no expiry")
	return cmd
}
