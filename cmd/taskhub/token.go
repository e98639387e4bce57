package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"taskhub/api/internal/auth"
	"taskhub/api/internal/util"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for local development",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		email, _ := cmd.Flags().GetString("email")
		name, _ := cmd.Flags().GetString("name")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		if userID == "" || email == "" {
			return fmt.Errorf("--user and --email are required")
		}

		token, err := auth.IssueToken([]byte(cfg.TokenSecret), auth.Claims{
			Sub:   userID,
			Email: email,
			Name:  name,
			JTI:   util.NewID("jti"),
			Exp:   time.Now().Add(ttl).Unix(),
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("user", "", "user id (token subject)")
	tokenCmd.Flags().String("email", "", "user email")
	tokenCmd.Flags().String("name", "", "display name")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
}
