package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/Proton-105/vidbot/internal/api/handler"
	"github.com/Proton-105/vidbot/internal/database"
	"github.com/Proton-105/vidbot/internal/i18n"
	"github.com/Proton-105/vidbot/internal/jobs"
	"github.com/Proton-105/vidbot/internal/notify"
	"github.com/Proton-105/vidbot/internal/payment"
	"github.com/Proton-105/vidbot/internal/promo"
	"github.com/Proton-105/vidbot/internal/repository"
	"github.com/Proton-105/vidbot/migrations"
)

func migrateCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Long: `Apply every .up.sql migration not yet recorded in schema_migrations.

The migrations compiled into the binary are used unless --dir points at a
directory on disk.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			migrator := database.NewMigrator(e.db, e.log)
			var applied int
			if dir != "" {
				applied, err = migrator.ApplyDir(cmd.Context(), dir)
			} else {
				applied, err = migrator.ApplyFS(cmd.Context(), migrations.FS, ".")
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", applied)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "read migrations from this directory")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show users, pending tickets and income per currency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			stats, err := payment.NewStatsService(repository.NewStore(e.db, e.log)).Collect(cmd.Context())
			if err != nil {
				return err
			}
			return printStats(cmd.OutOrStdout(), stats)
		},
	}
}

func printStats(out io.Writer, stats *payment.Stats) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "users\t%d\n", stats.Users)
	fmt.Fprintf(w, "pending\t%d\n", stats.Pending)
	printIncome(w, "today", stats.IncomeToday)
	printIncome(w, "7 days", stats.IncomeWeek)
	printIncome(w, "30 days", stats.IncomeMonth)
	return w.Flush()
}

func printIncome(w io.Writer, window string, income map[string]decimal.Decimal) {
	currencies := make([]string, 0, len(income))
	for c := range income {
		currencies = append(currencies, c)
	}
	sort.Strings(currencies)

	for _, c := range currencies {
		fmt.Fprintf(w, "income %s\t%s %s\n", window, income[c].StringFixed(2), c)
	}
}

func pendingCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List pending tickets, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			tickets, err := payment.NewStatsService(repository.NewStore(e.db, e.log)).PendingTickets(cmd.Context(), limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCHAT\tPLAN\tMETHOD\tAMOUNT\tPHONE/INVOICE\tCREATED")
			for _, t := range tickets {
				v := handler.NewTicketView(t)
				fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s %s\t%s\t%s\n",
					v.ID, v.ChatID, v.Plan, v.Method, v.Amount.String(), v.Currency,
					firstNonEmpty(v.Phone, v.InvoiceID, "-"), v.CreatedAt.Format(time.DateTime))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "maximum tickets listed")
	return cmd
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <chat-id>",
		Short: "Cancel the pending ticket of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid chat id %q: %w", args[0], err)
			}

			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			tickets := payment.NewTicketService(repository.NewStore(e.db, e.log), nil, payment.Receivers{}, e.log)
			n, err := tickets.Cancel(cmd.Context(), chatID)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "cancelled %d ticket(s) for %d\n", n, chatID)
			return nil
		},
	}
}

func sweepCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one promo reminder sweep now",
		Long: `Run one promo reminder pass outside the hourly schedule. Reminders are
enqueued on the notification queue and delivered by the running bot.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			messages, err := i18n.LoadFromDir(e.cfg.I18n.Dir, e.cfg.I18n.DefaultLang)
			if err != nil {
				return fmt.Errorf("load translations: %w", err)
			}

			notifier := notify.Nop
			if !dryRun {
				queue := jobs.NewManager(asynq.RedisClientOpt{
					Addr:     e.cfg.Redis.Addr,
					Password: e.cfg.Redis.Password,
					DB:       e.cfg.Redis.DB,
				}, e.log)
				defer queue.Close()

				notifier = notify.NewQueueNotifier(queue, jobs.NotifyOptions{
					MaxRetry: e.cfg.Jobs.NotifyMaxRetry,
					Timeout:  e.cfg.Jobs.NotifyTimeout,
				}, e.log)
			}

			store := repository.NewStore(e.db, e.log)
			res, err := promo.NewSweeper(store.Accounts(), notifier, messages.Default(), e.log).Sweep(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "candidates=%d sent=%d failed=%d unpersisted=%d\n",
				res.Candidates, res.Sent, res.Failed, res.Unpersisted)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "mark reminders without sending them")
	return cmd
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
