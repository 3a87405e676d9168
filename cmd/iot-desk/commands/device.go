package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func deviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Manage desks",
	}
	cmd.AddCommand(deviceAddCmd())
	return cmd
}

func deviceAddCmd() *cobra.Command {
	var email, id string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Attach a desk to a registered user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			ctx := cmd.Context()
			u, err := repo.GetUserByEmail(ctx, email)
			if err != nil {
				return err
			}
			if u == nil {
				return fmt.Errorf("no user registered with email %q", email)
			}
			d, err := repo.CreateDevice(ctx, u.ID, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added device %s for %s\n", d.ID, u.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "owner email address")
	cmd.Flags().StringVar(&id, "id", "", "device id used in the command topic")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
