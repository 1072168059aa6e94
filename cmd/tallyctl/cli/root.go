// Package cli implements the tallyctl operator commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tallybridge/tallybridge/internal/app"
	"github.com/tallybridge/tallybridge/internal/authorize"
	"github.com/tallybridge/tallybridge/internal/payment"
	"github.com/tallybridge/tallybridge/internal/platform/cache"
	"github.com/tallybridge/tallybridge/internal/tally"
	"github.com/tallybridge/tallybridge/internal/vouchersync"
)

var version = "dev"

// NewRootCommand builds the tallyctl command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "tallyctl",
		Short: "Operate the Tally bridge: polls, approvals and payment checks",
		Long: `tallyctl talks to the Tally gateway and the job queue with the same
environment configuration as the server and worker (TALLY_IMPORT_URL,
TALLY_COMPANIES, REDIS_ADDR, ...). A .env file in the working directory is
loaded first.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newPollCommand(),
		newQueueCommand(),
		newCleanupCommand(),
		newPendingCommand(),
		newApproveCommand(),
		newWatermarkCommand(),
		newSignCommand(),
		newVerifyCommand(),
	)
	return root
}

func loadConfig() (*app.Config, *slog.Logger, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return cfg, logger, nil
}

func tallyClient(cfg *app.Config, logger *slog.Logger) *tally.Client {
	return tally.NewClient(tally.ClientConfig{
		ImportURL: cfg.TallyImportURL,
		QueryURL:  cfg.TallyQueryURL,
		Timeout:   cfg.TallyTimeout,
		Logger:    logger,
	})
}

func company(cfg *app.Config, guid string) (tally.Company, error) {
	c, ok := cfg.TallyCompanies.ByGUID(guid)
	if !ok {
		return tally.Company{}, fmt.Errorf("company %q is not configured", guid)
	}
	return c, nil
}

func newPollCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "poll [company-guid]",
		Short: "Poll for new optional vouchers",
		Long: `Without --now the poll is queued for the worker. With --now it runs in this
process against Tally and Redis and prints the result per company.`,
		Example: `  tallyctl poll
  tallyctl poll 3f2a-... --now`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			guid := ""
			if len(args) == 1 {
				guid = args[0]
			}
			now, _ := cmd.Flags().GetBool("now")
			if !now {
				jc := NewJobsCLI(cfg.RedisAddr)
				defer jc.Close()
				info, err := jc.TriggerPoll(cmd.Context(), guid)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued %s (%s)\n", info.ID, info.Type)
				return nil
			}

			targets := []tally.Company(cfg.TallyCompanies)
			if guid != "" {
				c, err := company(cfg, guid)
				if err != nil {
					return err
				}
				targets = []tally.Company{c}
			}
			redisClient, err := cache.New(cmd.Context(), cfg.RedisAddr)
			if err != nil {
				return err
			}
			defer redisClient.Close()
			poller := vouchersync.NewPoller(vouchersync.PollerConfig{
				Querier:     tallyClient(cfg, logger),
				Store:       vouchersync.NewRedisStore(redisClient),
				Notifier:    vouchersync.NewRedisNotifier(redisClient),
				Token:       cfg.TallyAuthToken,
				Concurrency: cfg.PollConcurrency,
				Logger:      logger,
			})
			return writePollResults(cmd.OutOrStdout(), poller.PollAll(cmd.Context(), targets))
		},
	}
	cmd.Flags().Bool("now", false, "run the poll in-process instead of queueing it")
	return cmd
}

func newQueueCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show job queue statistics and scheduled tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			jc := NewJobsCLI(cfg.RedisAddr)
			defer jc.Close()
			stats, err := jc.InspectQueue()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "queue %s: pending=%d active=%d scheduled=%d retry=%d\n",
				stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
			scheduled, err := jc.ListScheduled(10)
			if err != nil {
				return err
			}
			for _, t := range scheduled {
				fmt.Fprintf(out, "  %s %s at %s\n", t.ID, t.Type, t.NextProcessAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func newCleanupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Queue a cleanup of old processed payment records",
		Long: `Queues the same task the worker runs nightly. Records older than
--older-than (default PROCESSED_PAYMENT_RETENTION) are removed.`,
		Example: `  tallyctl cleanup --older-than 720h`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			olderThan, _ := cmd.Flags().GetDuration("older-than")
			if olderThan < 0 {
				return fmt.Errorf("--older-than must not be negative")
			}
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if olderThan == 0 {
				olderThan = cfg.ProcessedPaymentRetention
			}
			jc := NewJobsCLI(cfg.RedisAddr)
			defer jc.Close()
			info, err := jc.TriggerCleanup(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %s (%s) older_than=%s\n", info.ID, info.Type, olderThan)
			return nil
		},
	}
	cmd.Flags().Duration("older-than", 0, "retention window (default $PROCESSED_PAYMENT_RETENTION)")
	return cmd
}

func newPendingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pending <company-guid>",
		Short: "List optional vouchers awaiting authorization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := company(cfg, args[0])
			if err != nil {
				return err
			}
			list, err := authorize.New(tallyClient(cfg, logger), logger).Pending(cmd.Context(), c, cfg.TallyAuthToken)
			if err != nil {
				return err
			}
			return writePending(cmd.OutOrStdout(), list)
		},
	}
}

func newApproveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "approve <company-guid> <master-id>",
		Short:   "Turn an optional voucher into a regular one",
		Example: `  tallyctl approve 3f2a-... 105 --approver "Meera"`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			masterID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || masterID <= 0 {
				return fmt.Errorf("master id %q must be a positive integer", args[1])
			}
			approver, _ := cmd.Flags().GetString("approver")
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := company(cfg, args[0])
			if err != nil {
				return err
			}
			out, err := authorize.New(tallyClient(cfg, logger), logger).Approve(context.WithoutCancel(cmd.Context()), c, authorize.ApproveRequest{
				MasterID: masterID,
				Approver: approver,
				Token:    cfg.TallyAuthToken,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.Message())
			if !out.Succeeded() {
				return fmt.Errorf("approval %s", out.Kind)
			}
			return nil
		},
	}
	cmd.Flags().String("approver", "", "name recorded in the voucher narration")
	return cmd
}

func newWatermarkCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watermark <company-guid>",
		Short: "Show or reset the last seen voucher of a company",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			redisClient, err := cache.New(cmd.Context(), cfg.RedisAddr)
			if err != nil {
				return err
			}
			defer redisClient.Close()
			return runWatermark(cmd, vouchersync.NewRedisStore(redisClient), args[0])
		},
	}
	cmd.Flags().Bool("reset", false, "forget the watermark so the next poll starts over")
	return cmd
}

func runWatermark(cmd *cobra.Command, store *vouchersync.RedisStore, guid string) error {
	reset, _ := cmd.Flags().GetBool("reset")
	if reset {
		if err := store.Reset(cmd.Context(), guid); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "watermark for %s reset\n", guid)
		return nil
	}
	wm, err := store.Load(cmd.Context(), guid)
	if err != nil {
		return err
	}
	checked := "never"
	if !wm.LastCheckedAt.IsZero() {
		checked = wm.LastCheckedAt.Format("2006-01-02 15:04:05 MST")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s last_master_id=%d last_checked=%s\n", guid, wm.LastMasterID, checked)
	return nil
}

func newSignCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign <gateway-order-id> <payment-id>",
		Short: "Compute the payment signature the gateway would send",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := secretFlag(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), payment.Sign(args[0], args[1], secret))
			return nil
		},
	}
	cmd.Flags().String("secret", "", "key secret (default $RAZORPAY_KEY_SECRET)")
	return cmd
}

func newVerifyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <gateway-order-id> <payment-id> <signature>",
		Short: "Check a payment signature",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := secretFlag(cmd)
			if err != nil {
				return err
			}
			if !payment.VerifySignature(args[0], args[1], args[2], secret) {
				return payment.ErrSignatureMismatch
			}
			fmt.Fprintln(cmd.OutOrStdout(), "signature ok")
			return nil
		},
	}
	cmd.Flags().String("secret", "", "key secret (default $RAZORPAY_KEY_SECRET)")
	return cmd
}

func secretFlag(cmd *cobra.Command) (string, error) {
	secret, _ := cmd.Flags().GetString("secret")
	if secret == "" {
		secret = os.Getenv("RAZORPAY_KEY_SECRET")
	}
	if secret == "" {
		return "", fmt.Errorf("no secret: pass --secret or set RAZORPAY_KEY_SECRET")
	}
	return secret, nil
}

func writePending(w io.Writer, list []tally.PendingVoucher) error {
	if len(list) == 0 {
		_, err := fmt.Fprintln(w, "no vouchers awaiting authorization")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MASTER ID\tDATE\tNUMBER\tCUSTOMER\tAMOUNT\tNARRATION")
	for _, v := range list {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			v.MasterID, v.Date, v.InvoiceNumber, v.Customer, tally.DisplayAmount(v.Amount), v.Narration)
	}
	return tw.Flush()
}

func writePollResults(w io.Writer, results []vouchersync.PollResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "COMPANY\tSTATUS\tNEW\tWATERMARK\tERROR")
	for _, r := range results {
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", r.Company.Name, r.Status, r.NewCount, r.Watermark, errText)
	}
	return tw.Flush()
}
