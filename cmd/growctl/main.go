// growctl is the operator CLI for a growcore installation.
//
// It works directly against the engine's SQLite database and
// configuration, for maintenance tasks that should not depend on the
// HTTP API being up.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	_ "github.com/nerrad567/gray-logic-grow/migrations"

	"github.com/nerrad567/gray-logic-grow/internal/auth"
	"github.com/nerrad567/gray-logic-grow/internal/command"
	"github.com/nerrad567/gray-logic-grow/internal/growcycle"
	"github.com/nerrad567/gray-logic-grow/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-grow/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-grow/internal/location"
	"github.com/nerrad567/gray-logic-grow/internal/recipe"
	"github.com/nerrad567/gray-logic-grow/internal/targets"
)

const defaultConfigPath = "configs/config.yaml"

// cli holds state shared by every subcommand.
type cli struct {
	configPath string
	cfg        *config.Config
	out        io.Writer
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}

	root := &cobra.Command{
		Use:           "growctl",
		Short:         "growcore operator CLI",
		Long:          "Command-line tool for maintaining a growcore database: migrations, tokens, targets and command housekeeping.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			c.cfg = cfg
			return nil
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", configPathFromEnv(), "Configuration file path")

	root.AddCommand(
		c.migrateCmd(),
		c.tokenCmd(),
		c.resolveCmd(),
		c.transitionsCmd(),
		c.sweepCmd(),
		c.publishCmd(),
	)
	return root
}

func configPathFromEnv() string {
	if path := os.Getenv("GROWCORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openDB opens and migrates the configured database.
func (c *cli) openDB(ctx context.Context) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        c.cfg.Database.Path,
		WALMode:     c.cfg.Database.WALMode,
		BusyTimeout: c.cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ─── migrate ────────────────────────────────────────────────────────

func (c *cli) migrateCmd() *cobra.Command {
	var down, status bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations, roll back the latest, or show status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, err := database.Open(database.Config{
				Path:        c.cfg.Database.Path,
				WALMode:     c.cfg.Database.WALMode,
				BusyTimeout: c.cfg.Database.BusyTimeout,
			})
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close()

			switch {
			case down:
				if err := db.MigrateDown(ctx); err != nil {
					return fmt.Errorf("rolling back: %w", err)
				}
				fmt.Fprintln(c.out, "rolled back latest migration")
			case status:
			default:
				if err := db.Migrate(ctx); err != nil {
					return fmt.Errorf("migrating: %w", err)
				}
				fmt.Fprintln(c.out, "migrations applied")
			}

			applied, pending, err := db.GetMigrationStatus(ctx)
			if err != nil {
				return fmt.Errorf("reading migration status: %w", err)
			}
			w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tSTATE\tAPPLIED_AT")
			for _, m := range applied {
				fmt.Fprintf(w, "%s\tapplied\t%s\n", m.Version, m.AppliedAt.Format(time.RFC3339))
			}
			for _, m := range pending {
				fmt.Fprintf(w, "%s\tpending (%s)\t-\n", m.Version, m.Name)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "Roll back the most recent migration")
	cmd.Flags().BoolVar(&status, "status", false, "Only show migration status")
	cmd.MarkFlagsMutuallyExclusive("down", "status")
	return cmd
}

// ─── token ──────────────────────────────────────────────────────────

func (c *cli) tokenCmd() *cobra.Command {
	var (
		role  string
		zones []string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token [actor-id]",
		Short: "Issue a bearer token for the API",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if !auth.IsValidRole(auth.Role(role)) {
				return fmt.Errorf("unknown role %q", role)
			}
			if ttl <= 0 {
				ttl = c.cfg.GetAccessTokenTTL()
			}
			tok, err := auth.IssueToken(args[0], auth.Role(role), zones, c.cfg.Security.JWT.Secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, tok)
			return nil
		},
	}
	cmd.Flags().StringVarP(&role, "role", "r", string(auth.RoleViewer), "Role: viewer, operator, agronomist, admin or service")
	cmd.Flags().StringSliceVarP(&zones, "zone", "z", nil, "Restrict the token to these zones (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to security.jwt.access_token_ttl)")
	return cmd
}

// ─── resolve ────────────────────────────────────────────────────────

func (c *cli) resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve [zone-id...]",
		Short: "Print effective targets for one or more zones",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := c.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			resolver := targets.NewResolver(growcycle.NewSQLiteRepository(db.DB), recipe.NewSQLiteRepository(db.DB), auth.CapabilityAuthorizer{})
			resolver.SetMaxBatchSize(c.cfg.Engine.MaxBatchSize)
			entries, err := resolver.ResolveBatch(ctx, auth.SystemActor("growctl"), args)
			if err != nil {
				return err
			}
			return c.printJSON(entries)
		},
	}
}

// ─── transitions ────────────────────────────────────────────────────

func (c *cli) transitionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transitions [cycle-id]",
		Short: "Show the transition ledger of a grow cycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := c.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			svc := newCycleService(db.DB)
			ts, err := svc.ListTransitions(ctx, auth.SystemActor("growctl"), args[0])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "AT\tTRIGGER\tSTATUS\tPHASE\tSTEP\tBY")
			for _, t := range ts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					t.CreatedAt.Format(time.RFC3339), t.Trigger,
					arrow(string(t.FromStatus), string(t.ToStatus)),
					arrow(t.FromPhaseID, t.ToPhaseID),
					arrow(t.FromStepID, t.ToStepID),
					dash(t.TriggeredBy))
			}
			return w.Flush()
		},
	}
}

func newCycleService(db *sql.DB) *growcycle.Service {
	return growcycle.NewService(growcycle.NewSQLiteRepository(db), recipe.NewSQLiteRepository(db),
		location.NewSQLiteRepository(db), auth.CapabilityAuthorizer{})
}

func arrow(from, to string) string {
	if from == to {
		return dash(to)
	}
	return dash(from) + " → " + dash(to)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// ─── sweep-timeouts ─────────────────────────────────────────────────

func (c *cli) sweepCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "sweep-timeouts",
		Short: "Mark SENT and ACCEPTED commands with no completion as TIMEOUT",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, err := c.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			if olderThan <= 0 {
				olderThan = c.cfg.GetCommandTimeout()
			}
			tracker := command.NewTracker(command.NewSQLiteRepository(db.DB), location.NewSQLiteRepository(db.DB),
				growcycle.NewSQLiteRepository(db.DB), auth.CapabilityAuthorizer{})
			swept, err := tracker.SweepTimeouts(ctx, auth.SystemActor("growctl"), olderThan)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CMD_ID\tZONE\tNODE\tCMD")
			for _, sc := range swept {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", sc.CmdID, sc.ZoneID, dash(sc.NodeID), sc.Cmd)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%d command(s) timed out\n", len(swept))
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Age after which an open command times out (defaults to engine.command_timeout)")
	return cmd
}

// ─── publish ────────────────────────────────────────────────────────

func (c *cli) publishCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "publish [revision-id]",
		Short: "Publish a DRAFT recipe revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := c.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			catalog := recipe.NewCatalog(recipe.NewSQLiteRepository(db.DB), auth.CapabilityAuthorizer{}, nil)
			rev, err := catalog.PublishRevision(ctx, auth.NewActor(actorID, auth.RoleAgronomist), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "published revision %d of recipe %s (%s)\n", rev.RevisionNumber, rev.RecipeID, rev.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&actorID, "as", "growctl", "Actor id recorded as publisher")
	return cmd
}
