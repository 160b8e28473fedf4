package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/gunrelay/internal/config"
	"github.com/roach88/gunrelay/internal/relay"
)

// ScanOptions holds flags for the scan command.
type ScanOptions struct {
	*RootOptions
	store storeFlags
}

// NewScanCommand creates the scan command.
func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scan <pattern>",
		Short: "Search thing titles and bodies",
		Long: `Search every stored thing's title and body with a case-insensitive
regular expression. The store is only read.

Example:
  gunrelay scan hello
  gunrelay scan 'foo|bar' --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, opts, args[0])
		},
	}

	opts.store.register(cmd)
	return cmd
}

func runScan(cmd *cobra.Command, opts *ScanOptions, pattern string) error {
	cfg, err := opts.loadConfig(func(c *config.Config) { opts.store.apply(c) })
	if err != nil {
		return err
	}
	logger := opts.logger(cmd.ErrOrStderr(), cfg)
	out := opts.formatter(cmd)

	gw, backend, err := openGateway(cfg, logger, true)
	if err != nil {
		return openStoreError(err)
	}
	defer backend.Close()

	matches, err := relay.NewBulk(gw, gw, nil, relay.WithBulkLogger(logger)).Scan(cmd.Context(), pattern)
	if err != nil {
		return WrapExitError(ExitCommandError, "scan failed", err)
	}
	if matches == nil {
		matches = []relay.Match{}
	}
	return out.Success(matches, formatMatches(matches))
}

func formatMatches(matches []relay.Match) string {
	if len(matches) == 0 {
		return "no matches"
	}
	var sb strings.Builder
	for i, m := range matches {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%s\t%s", m.ThingID, m.Title)
	}
	return sb.String()
}
