package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/listforge/listforge/internal/tokenstore"
)

func newLoginCmd() *cobra.Command {
	var accessToken, refreshToken string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save backend API tokens",
		Long:  "Saves the access and refresh tokens issued by the listforge dashboard. Tokens are stored with owner-only permissions and refreshed automatically when they expire.",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runLogin(accessToken, refreshToken)
		},
	}

	cmd.Flags().StringVar(&accessToken, "access-token", "", "access token from the dashboard")
	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "refresh token from the dashboard")
	_ = cmd.MarkFlagRequired("access-token")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove saved API tokens",
		RunE:  runLogout,
	}
}

func runLogin(accessToken, refreshToken string) error {
	logger := buildLogger()

	if refreshToken == "" {
		// Usable, but the session dies when the access token expires.
		fmt.Fprintln(os.Stderr, "Warning: no refresh token provided; you will need to log in again when the access token expires.")
	}

	store, err := tokenstore.Open(resolvedCfg.TokenPath, logger)
	if err != nil {
		// A corrupt or stale token file is overwritten by a fresh login.
		logger.Warn("existing token file unreadable, overwriting", slog.Any("error", err))

		store = tokenstore.New(resolvedCfg.TokenPath, logger)
	}

	if err := store.Set(tokenstore.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}); err != nil {
		return fmt.Errorf("saving tokens: %w", err)
	}

	logger.Info("login successful")
	statusf("Login successful.\n")

	return nil
}

func runLogout(_ *cobra.Command, _ []string) error {
	logger := buildLogger()

	store, err := tokenstore.Open(resolvedCfg.TokenPath, logger)
	if err != nil {
		store = tokenstore.New(resolvedCfg.TokenPath, logger)
	}

	if err := store.Clear(); err != nil {
		return fmt.Errorf("removing tokens: %w", err)
	}

	logger.Info("logout successful")
	statusf("Logged out.\n")

	return nil
}
