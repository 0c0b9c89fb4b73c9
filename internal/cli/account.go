package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dukerupert/stride/internal/model"
	"github.com/dukerupert/stride/internal/push"
	"github.com/dukerupert/stride/internal/store"
)

// NewVAPIDKeysCommand prints a fresh VAPID key pair for web push.
func NewVAPIDKeysCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "vapid-keys",
		Short: "Generate a VAPID key pair for push notifications",
		// Needs no configuration or database.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, priv, err := push.GenerateVAPIDKeys()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "STRIDE_VAPID_PUBLIC_KEY=%s\nSTRIDE_VAPID_PRIVATE_KEY=%s\n", pub, priv)
			return nil
		},
	}
}

// NewSetPlanCommand changes a user's plan without going through billing.
func NewSetPlanCommand(rootOpts *RootOptions) *cobra.Command {
	var email, plan string

	cmd := &cobra.Command{
		Use:   "set-plan",
		Short: "Set a user's subscription plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := model.Plan(plan)
			if !p.Valid() {
				return fmt.Errorf("unknown plan %q: must be one of %v", plan, model.Plans)
			}
			db, err := rootOpts.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			user, err := lookupUser(db, email)
			if err != nil {
				return err
			}
			if err := store.NewUserStore(db).SetPlan(user.ID, p); err != nil {
				return err
			}
			rootOpts.Logger.Info("plan changed", "user_id", user.ID, "from", user.Plan, "to", p)
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now on %s\n", user.Email, p)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&plan, "plan", "", "free, premium or pro")
	return cmd
}
