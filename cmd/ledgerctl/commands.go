package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/yp-alpha/progression/internal/config"
	"github.com/yp-alpha/progression/internal/logging"
	"github.com/yp-alpha/progression/internal/progression"
	"github.com/yp-alpha/progression/internal/storage"
)

// app is built by the root command before any subcommand runs.
type app struct {
	configPath string
	driver     string
	dsn        string
	verbose    bool

	backend storage.Backend
	engine  *progression.Engine
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Inspect and adjust athlete progression records",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.close()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "config.yaml", "Path to config file")
	root.PersistentFlags().StringVar(&a.driver, "driver", "", "Override storage driver (postgres, sqlite, file)")
	root.PersistentFlags().StringVar(&a.dsn, "dsn", "", "Override storage DSN or ledger directory")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log engine activity to stderr")

	root.AddCommand(
		a.enrollCmd(),
		a.completeCmd(),
		a.awardCmd(),
		a.freezeCmd(),
		a.repairCmd(),
		a.summaryCmd(),
		a.historyCmd(),
	)
	return root
}

func (a *app) open(cmd *cobra.Command) error {
	cfg, err := config.LoadOrDefault(a.configPath)
	if err != nil {
		return err
	}
	if a.driver != "" && a.driver != cfg.Storage.Driver {
		// The configured DSN belongs to the configured driver.
		cfg.Storage.Driver = a.driver
		cfg.Storage.DSN = ""
	}
	if a.dsn != "" {
		cfg.Storage.DSN = a.dsn
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	level := "warn"
	if a.verbose {
		level = "debug"
	}
	logger := slog.New(logging.NewHandler(cmd.ErrOrStderr(), logging.ParseLevel(level)))

	a.backend, err = storage.Open(storage.Options{
		Driver: cfg.Storage.Driver,
		DSN:    cfg.Storage.DSN,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	a.engine, err = progression.NewEngine(a.backend, &cfg.Economy,
		progression.WithLocation(loc),
		progression.WithLogger(logger),
		progression.WithRetry(cfg.Engine.MaxAttempts, cfg.Engine.InitialBackoff),
	)
	return err
}

func (a *app) close() error {
	if a.backend == nil {
		return nil
	}
	return a.backend.Close()
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) enrollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enroll <user>",
		Short: "Create a zeroed progression record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := a.engine.Enroll(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, sum)
		},
	}
}

func (a *app) completeCmd() *cobra.Command {
	var (
		duration int
		perfect  bool
	)
	cmd := &cobra.Command{
		Use:   "complete <user> <enrollment-ref> <day>",
		Short: "Record a completed training session",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("day must be a number: %w", err)
			}
			res, err := a.engine.CompleteSession(cmd.Context(), progression.SessionCompletion{
				UserID:          args[0],
				EnrollmentRef:   args[1],
				DayNumber:       day,
				DurationSeconds: duration,
				PerfectForm:     perfect,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().IntVar(&duration, "duration", 1800, "Session length in seconds")
	cmd.Flags().BoolVar(&perfect, "perfect", false, "Session had perfect form")
	return cmd
}

func (a *app) awardCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:       "award <xp|currency> <user> <amount>",
		Short:     "Grant XP or currency outside a session, subject to daily caps",
		Args:      cobra.ExactArgs(3),
		ValidArgs: []string{"xp", "currency"},
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("amount must be a number: %w", err)
			}
			switch args[0] {
			case "xp":
				res, err := a.engine.AwardXP(cmd.Context(), args[1], amount, reason)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			case "currency":
				res, err := a.engine.AwardCurrency(cmd.Context(), args[1], amount, reason)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			default:
				return fmt.Errorf("unknown award kind %q (want xp or currency)", args[0])
			}
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "manual", "Reason recorded with the award")
	return cmd
}

func (a *app) freezeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "freeze <user>",
		Short: "Buy a streak freeze",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.engine.PurchaseStreakFreeze(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func (a *app) repairCmd() *cobra.Command {
	var quote bool
	cmd := &cobra.Command{
		Use:   "repair <user>",
		Short: "Buy a streak repair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if quote {
				cost, err := a.engine.RepairQuote(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]int64{"cost": cost})
			}
			res, err := a.engine.RepairStreak(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().BoolVar(&quote, "quote", false, "Only report the current price")
	return cmd
}

func (a *app) summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary <user>",
		Short: "Show level, rank, streak, balance and today's earnings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := a.engine.Summary(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			daily, err := a.engine.DailyProgress(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, struct {
				*progression.Summary
				Today *progression.DailyProgress `json:"today"`
			}{sum, daily})
		},
	}
}

func (a *app) historyCmd() *cobra.Command {
	var statsOnly bool
	cmd := &cobra.Command{
		Use:   "history <user>",
		Short: "List completed sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if statsOnly {
				st, err := a.engine.CompletionStats(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, st)
			}
			hist, err := a.engine.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if hist == nil {
				hist = []progression.Completion{}
			}
			return printJSON(cmd, hist)
		},
	}
	cmd.Flags().BoolVar(&statsOnly, "stats", false, "Only print totals")
	return cmd
}
