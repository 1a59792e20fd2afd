package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/treeaudit/internal/config"
	"github.com/3leaps/treeaudit/internal/observability"
	"github.com/3leaps/treeaudit/pkg/audit"
	"github.com/3leaps/treeaudit/pkg/contentstore"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit legacy expiration dates",
}

var auditRunCmd = &cobra.Command{
	Use:   "run [root]",
	Short: "Run one audit in the foreground",
	Long: `Walk the content tree from root (default: audit.root) and report
assets whose expiration date is still stored as a string. With --repair the
values are rewritten as native dates and committed every audit.batch_size
fixes and once at the end.

Interrupting the command stops the walk at the next node; repairs made so
far are committed before it exits.

Example:
  treeaudit audit run /content/dam
  treeaudit audit run /content/dam --repair --report audit-{run_id}.jsonl
  TREEAUDIT_AUDIT_PASSWORD=secret treeaudit audit run --user admin --repair`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAuditRun,
}

var (
	auditRepair bool
	auditReport string
	auditUser   string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditRunCmd)

	auditRunCmd.Flags().BoolVar(&auditRepair, "repair", false, "Rewrite legacy string values as native dates")
	auditRunCmd.Flags().StringVarP(&auditReport, "report", "r", "", "JSONL report destination (path, - for stdout; {run_id} expands)")
	auditRunCmd.Flags().StringVarP(&auditUser, "user", "u", "", "Login principal (default: audit.username)")
}

func runAuditRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	overrides := map[string]any{}
	if len(args) == 1 {
		overrides["audit.root"] = args[0]
	}
	if cmd.Flags().Changed("report") {
		overrides["audit.report"] = auditReport
	}
	if cmd.Flags().Changed("user") {
		overrides["audit.username"] = auditUser
	}

	cfg, err := config.Load(ctx, overrides)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		observability.CLILogger.Error("Failed to open store", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open content store", err)
	}
	defer closeStore(store)

	job, err := newJob(store, cfg, observability.CLILogger, cmd.OutOrStdout())
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid audit configuration", err)
	}

	if !job.Start(cfg.Audit.Root, cfg.Audit.Credentials(), auditRepair) {
		return exitError(exitFailure, "Audit did not start", fmt.Errorf("a run is already in progress"))
	}

	interrupted := false
	if err := job.Wait(ctx); err != nil {
		interrupted = true
		observability.CLILogger.Warn("Interrupted; stopping audit")
		job.Stop()
		_ = job.Wait(context.Background())
	}

	st := job.Snapshot()
	if cfg.Audit.Report != "-" {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), st.String())
	}

	switch {
	case st.Phase == audit.PhaseFailed:
		return exitError(foundry.ExitExternalServiceUnavailable, "Audit failed", errors.New(st.LastError))
	case interrupted:
		return exitError(foundry.ExitSignalInt, "Audit stopped", ctx.Err())
	}
	return nil
}

// newJob builds an audit job over store from cfg.
func newJob(store contentstore.Store, cfg *config.Config, logger *zap.Logger, stdout io.Writer) (*audit.Job, error) {
	jobCfg, err := cfg.Audit.JobConfig()
	if err != nil {
		return nil, err
	}
	return audit.New(store, jobCfg,
		audit.WithLogger(logger),
		audit.WithStoreName(cfg.Store.Backend),
		audit.WithReport(reportOpener(cfg.Audit.Report, cfg.Store.Backend, stdout)),
	)
}
