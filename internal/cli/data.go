package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dukerupert/stride/internal/model"
	"github.com/dukerupert/stride/internal/server"
	"github.com/dukerupert/stride/internal/store"
	"github.com/dukerupert/stride/internal/tracker"
)

// newTracker builds an item store over the configured collection backend.
// The returned func releases it.
func (o *RootOptions) newTracker(ctx context.Context, db *sql.DB) (*tracker.Store, func() error, error) {
	loc, err := o.Config.Location()
	if err != nil {
		return nil, nil, err
	}
	docs, closeDocs, err := server.OpenPersistence(ctx, db, o.Config)
	if err != nil {
		return nil, nil, err
	}
	return tracker.New(docs,
		tracker.WithLocation(loc),
		tracker.WithLogger(o.Logger),
	), closeDocs, nil
}

func lookupUser(db *sql.DB, email string) (*model.User, error) {
	if email == "" {
		return nil, fmt.Errorf("--email is required")
	}
	user, err := store.NewUserStore(db).GetByEmail(email)
	if err != nil {
		return nil, fmt.Errorf("look up user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("no user with email %s", email)
	}
	return user, nil
}

func parseKind(s string) (model.Kind, error) {
	if s == "" || s == model.FeatureAll {
		return "", nil
	}
	k := model.Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown kind %q: must be habit, task or all", s)
	}
	return k, nil
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	var email, kind, out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a user's snapshot as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := parseKind(kind)
			if err != nil {
				return err
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
			tr, closeDocs, err := rootOpts.newTracker(cmd.Context(), db)
			if err != nil {
				return err
			}
			defer closeDocs()
			blob, err := tr.ExportSnapshot(cmd.Context(), user.ID, k)
			if err != nil {
				return fmt.Errorf("export snapshot: %w", err)
			}

			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(blob)
				return err
			}
			if err := os.WriteFile(out, blob, 0o600); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "exported to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&kind, "kind", "all", "habit, task or all")
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default stdout)")
	return cmd
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	var email, file string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace a user's items with a snapshot file",
		Long:  "Replace a user's items with a snapshot file. A habit or task snapshot replaces\nonly that kind; an \"all\" snapshot replaces the whole collection.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			var blob []byte
			var err error
			if file == "-" {
				blob, err = io.ReadAll(cmd.InOrStdin())
			} else {
				blob, err = os.ReadFile(file)
			}
			if err != nil {
				return fmt.Errorf("read snapshot: %w", err)
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
			tr, closeDocs, err := rootOpts.newTracker(cmd.Context(), db)
			if err != nil {
				return err
			}
			defer closeDocs()
			n, err := tr.ImportSnapshot(cmd.Context(), tracker.Owner{ID: user.ID, Plan: user.Plan}, blob)
			if err != nil {
				return fmt.Errorf("import snapshot: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d items\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVarP(&file, "file", "f", "", "snapshot file, - for stdin")
	return cmd
}
