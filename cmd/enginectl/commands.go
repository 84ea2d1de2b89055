package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"orchestrator/internal/adapter/repo"
	"orchestrator/internal/catalog"
	"orchestrator/internal/enginestate"
	"orchestrator/internal/infra"
	"orchestrator/internal/infra/credentials"
)

type rootOptions struct {
	catalogPath string
	timeout     time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "enginectl",
		Short:        "Inspect the generation catalog and manage engine overrides",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.catalogPath, "catalog", os.Getenv("CATALOG_PATH"), "catalog YAML file (embedded default when empty)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "timeout for backing service calls")

	root.AddCommand(
		newValidateCmd(opts),
		newEnginesCmd(opts),
		newCredentialsCmd(opts),
		newMigrateCmd(opts),
	)
	return root
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Check a catalog file for cycles, unknown references and bad constraints",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.catalogPath
			if len(args) == 1 {
				path = args[0]
			}
			gen, err := catalog.LoadPath(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "catalog ok: %d ecosystems, %d engines\n", len(gen.Ecosystems.Keys()), len(gen.Engines()))
			return nil
		},
	}
}

func newEnginesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engines",
		Short: "List or toggle engines",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Show every engine with its effective state",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
				defer cancel()
				holder, err := loadHolder(opts.catalogPath)
				if err != nil {
					return err
				}
				if store, closeStore, err := openEngineStore(ctx); err == nil {
					defer closeStore()
					states, err := store.Load(ctx)
					if err != nil {
						return err
					}
					holder.ApplyEngineStates(states)
				} else if !errors.Is(err, errNoRedis) {
					return err
				}
				return printEngines(cmd.OutOrStdout(), holder.Current().Engines())
			},
		},
		toggleCmd(opts, "disable", true),
		toggleCmd(opts, "enable", false),
	)
	return cmd
}

func toggleCmd(opts *rootOptions, verb string, disabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <engine>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " an engine on every instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			holder, err := loadHolder(opts.catalogPath)
			if err != nil {
				return err
			}
			store, closeStore, err := openEngineStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()
			key := catalog.NormalizeKey(args[0])
			syncer := enginestate.NewSyncer(holder, store, 0, infra.NewLogger("cli"))
			if err := syncer.SetDisabled(ctx, key, disabled); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "engine %s %sd\n", key, verb)
			return nil
		},
	}
}

func newCredentialsCmd(opts *rootOptions) *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage provider credentials stored in the database",
	}
	set := &cobra.Command{
		Use:   "set-provider-key <key>",
		Short: "Store the compute provider API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			runner, closeDB, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer closeDB()
			props := map[string]any{"updated_via": "enginectl"}
			if note != "" {
				props["note"] = note
			}
			if err := credentials.NewStore(runner).SetProviderAPIKey(ctx, args[0], props); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "provider key stored")
			return nil
		},
	}
	set.Flags().StringVar(&note, "note", "", "free-form note kept with the key")
	cmd.AddCommand(set)
	return cmd
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the orchestrator tables if they do not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			runner, closeDB, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer closeDB()
			if _, err := runner.Pool.Exec(ctx, repo.Schema); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}

func printEngines(w io.Writer, engines []catalog.Engine) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENGINE\tORDER\tSTATE\tWORKFLOWS\tECOSYSTEMS")
	for _, e := range engines {
		state := "enabled"
		if e.Disabled {
			state = "disabled"
		}
		ecosystems := strings.Join(e.Ecosystems, ",")
		if ecosystems == "" {
			ecosystems = "*"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", e.Key, e.Order, state, strings.Join(e.Workflows, ","), ecosystems)
	}
	return tw.Flush()
}
