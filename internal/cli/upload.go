package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/gunrelay/internal/bus"
	"github.com/roach88/gunrelay/internal/config"
	"github.com/roach88/gunrelay/internal/relay"
)

// UploadOptions holds flags for the upload command.
type UploadOptions struct {
	*RootOptions
	store     storeFlags
	transport transportFlags
	Timeout   time.Duration
}

// UploadReport is the result of an upload run.
type UploadReport struct {
	Visited   int `json:"visited"`
	Published int `json:"published"`
	Acked     int `json:"acked"`
	TimedOut  int `json:"timed_out"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

func (r UploadReport) String() string {
	return fmt.Sprintf("published %d things (%d acked, %d timed out), skipped %d, failed %d",
		r.Published, r.Acked, r.TimedOut, r.Skipped, r.Failed)
}

// NewUploadCommand creates the upload command.
func NewUploadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UploadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "upload [thing-id...]",
		Short: "Publish stored things to gun/put",
		Long: `Publish stored things as writes on gun/put, one at a time.

Each thing's root and data nodes are sent together and the command waits
for the reply on gun/@<id> (or the upload timeout) before sending the
next one. With no ids every stored thing is uploaded in key order.

Example:
  gunrelay upload
  gunrelay upload 42 43 --timeout 1s`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, opts, args)
		},
	}

	opts.store.register(cmd)
	opts.transport.register(cmd)
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "wait this long for each ack (0 waits forever; default from config)")

	return cmd
}

func runUpload(cmd *cobra.Command, opts *UploadOptions, ids []string) error {
	cfg, err := opts.loadConfig(func(c *config.Config) {
		opts.store.apply(c)
		opts.transport.apply(c)
		if cmd.Flags().Changed("timeout") {
			c.Relay.UploadTimeout = opts.Timeout
		}
	})
	if err != nil {
		return err
	}
	logger := opts.logger(cmd.ErrOrStderr(), cfg)
	out := opts.formatter(cmd)
	ctx := cmd.Context()

	gw, backend, err := openGateway(cfg, logger, true)
	if err != nil {
		return openStoreError(err)
	}
	defer backend.Close()

	b, err := dialBus(ctx, cfg, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to connect transport", err)
	}
	defer b.Close()
	if err := waitConnected(ctx, b); err != nil {
		return WrapExitError(ExitCommandError, "failed to connect transport", err)
	}
	if creds := credentials(cfg); !creds.Empty() {
		if err := b.Authenticate(ctx, creds); err != nil {
			logger.Error("error logging in", "public", creds.Public, "error", err)
		}
	}

	bulk := relay.NewBulk(gw, gw, b,
		relay.WithUploadTimeout(cfg.Relay.UploadTimeout),
		relay.WithBulkLogger(logger),
	)

	var stats relay.UploadStats
	if len(ids) == 0 {
		stats, err = bulk.UploadAll(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "upload scan failed", err)
		}
	} else {
		stats = uploadEach(cmd, bulk, ids, out)
	}

	report := UploadReport{
		Visited:   stats.Visited,
		Published: stats.Published(),
		Acked:     stats.Acked,
		TimedOut:  stats.TimedOut,
		Skipped:   stats.Skipped,
		Failed:    stats.Failed,
	}
	if err := out.Success(report, report.String()); err != nil {
		return err
	}
	if report.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d uploads failed", report.Failed))
	}
	return nil
}

// uploadEach uploads the named things in argument order, one at a time.
func uploadEach(cmd *cobra.Command, bulk *relay.Bulk, ids []string, out *OutputFormatter) relay.UploadStats {
	ctx := cmd.Context()
	stats := relay.UploadStats{Visited: len(ids)}
	for _, id := range ids {
		res, err := bulk.UploadOne(ctx, id).Wait(ctx)
		if err != nil {
			stats.Failed++
			out.VerboseLog("upload %s failed: %v", id, err)
			if errors.Is(err, bus.ErrClosed) || ctx.Err() != nil {
				break
			}
			continue
		}
		out.VerboseLog("upload %s: %s", id, res.Outcome)
		switch res.Outcome {
		case relay.UploadAcked:
			stats.Acked++
		case relay.UploadTimedOut:
			stats.TimedOut++
		case relay.UploadSkipped:
			stats.Skipped++
		}
	}
	return stats
}
