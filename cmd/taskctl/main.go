package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"taskgraph/internal/app"
	"taskgraph/internal/config"
	"taskgraph/pkg/actor"
	"taskgraph/pkg/report"
)

var (
	flagConfig string
	flagJSON   bool
	flagDate   string
	flagRole   string
	flagEmail  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "taskctl",
		Short: "Administer the task dependency engine",
		Long: `taskctl maintains a taskgraph database: it creates the schema, recomputes
blocked state, verifies the dependency graph and the transition log, prints
daily reports and registers actors.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Machine-readable JSON output")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(recomputeCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(actorCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, Red("error:"), err)
		os.Exit(1)
	}
}

func open(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	return app.Open(ctx, cfg)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create tables and register the cascade actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			fmt.Printf("%s schema ready, cascade actor %s\n", Green("✓"), Bold(a.Cascade.ID))
			return nil
		},
	}
}

func recomputeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recompute [task-id]",
		Short: "Re-derive blocked state for one task or all tasks",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) == 0 {
				n, err := a.Engine.RecomputeAll(ctx)
				if err != nil {
					return err
				}
				if flagJSON {
					return printJSON(map[string]int{"transitions": n})
				}
				fmt.Printf("%s recomputed all tasks: %s transition(s)\n", Green("✓"), Bold(n))
				return nil
			}

			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			out, err := a.Engine.RecomputeBlockedState(ctx, id)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(out)
			}
			fmt.Printf("%s task %d is %s (%d transition(s))\n", Green("✓"), id, StatusColor(string(out.Task.Status)), len(out.Records))
			return nil
		},
	}
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the dependency graph for cycles and the transition log hash chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			cycle, err := a.Engine.DetectCycles(ctx)
			if err != nil {
				return err
			}
			chainErr := a.Engine.VerifyAudit(ctx)

			if flagJSON {
				res := map[string]any{"acyclic": cycle == nil, "chain_ok": chainErr == nil}
				if cycle != nil {
					res["cycle"] = cycle
				}
				if chainErr != nil {
					res["chain_error"] = chainErr.Error()
				}
				if err := printJSON(res); err != nil {
					return err
				}
			} else {
				if cycle == nil {
					fmt.Printf("%s dependency graph is acyclic\n", Green("✓"))
				} else {
					fmt.Printf("%s dependency cycle: %v\n", Red("✗"), cycle)
				}
				if chainErr == nil {
					fmt.Printf("%s transition log hash chain intact\n", Green("✓"))
				} else {
					fmt.Printf("%s %v\n", Red("✗"), chainErr)
				}
			}
			if cycle != nil || chainErr != nil {
				return fmt.Errorf("verification failed")
			}
			return nil
		},
	}
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Task reports",
	}
	daily := &cobra.Command{
		Use:   "daily",
		Short: "Tasks created on a day (default today, UTC)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			day, err := report.ParseDay(flagDate)
			if err != nil {
				return err
			}
			a, err := open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			d, err := a.Reports.Daily(ctx, day)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(d)
			}
			printDaily(d)
			return nil
		},
	}
	daily.Flags().StringVar(&flagDate, "date", "", "Day as YYYY-MM-DD")
	cmd.AddCommand(daily)
	return cmd
}

func printDaily(d *report.Daily) {
	fmt.Printf("%s %s: %d task(s), %d unassigned\n", BoldCyan("Daily report"), d.Date, d.Total, d.Unassigned)
	for _, t := range d.Tasks {
		fmt.Printf("  %s %-40s %s %s\n", Dim(fmt.Sprintf("#%d", t.ID)), t.Title, StatusColor(string(t.Status)), Dim(string(t.Type)))
	}
}

func actorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actor",
		Short: "Manage actors",
	}
	register := &cobra.Command{
		Use:   "register <name>",
		Short: "Register a human actor with a role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role := actor.Role(flagRole)
			if !role.Valid() || role == actor.RoleSystem {
				return fmt.Errorf("role must be admin, manager or developer")
			}
			ctx := cmd.Context()
			a, err := open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			act, err := a.Actors.Register(ctx, actor.TypeHuman, args[0], flagEmail, role)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(act)
			}
			fmt.Printf("%s %s (%s) %s\n", Green("✓"), Bold(act.Name), act.Role, Dim(act.ID))
			return nil
		},
	}
	register.Flags().StringVar(&flagRole, "role", string(actor.RoleDeveloper), "admin, manager or developer")
	register.Flags().StringVar(&flagEmail, "email", "", "Email address")

	list := &cobra.Command{
		Use:   "list",
		Short: "List actors",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			actors, err := a.Actors.List(ctx)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(actors)
			}
			for _, act := range actors {
				fmt.Printf("  %-36s %-10s %s\n", Dim(act.ID), act.Role, act.Name)
			}
			return nil
		},
	}
	cmd.AddCommand(register, list)
	return cmd
}
