package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bloveless/esp32-iot-desk/internal/store"
)

func clientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Manage OAuth clients",
	}
	cmd.AddCommand(clientAddCmd())
	return cmd
}

func clientAddCmd() *cobra.Command {
	var c store.OAuthClient
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register or update an OAuth client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(c.ClientSecret) == "" {
				return errors.New("--secret must not be empty")
			}
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()
			if err := repo.UpsertClient(cmd.Context(), &c); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved client %s\n", c.ClientID)
			return nil
		},
	}
	cmd.Flags().StringVar(&c.ClientID, "id", "", "client id")
	cmd.Flags().StringVar(&c.ClientSecret, "secret", "", "client secret")
	cmd.Flags().StringVar(&c.RedirectURI, "redirect-uri", "", "exact redirect uri")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("secret")
	_ = cmd.MarkFlagRequired("redirect-uri")
	return cmd
}
