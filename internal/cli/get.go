package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/roach88/gunrelay/internal/config"
)

// GetOptions holds flags for the get command.
type GetOptions struct {
	*RootOptions
	store storeFlags
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "get <soul>",
		Short: "Print one stored node",
		Long: `Print the node stored under a soul in gun wire format.

Example:
  gunrelay get nab/things/42/data`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd, opts, args[0])
		},
	}

	opts.store.register(cmd)
	return cmd
}

func runGet(cmd *cobra.Command, opts *GetOptions, soul string) error {
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

	node, err := gw.Read(cmd.Context(), soul)
	if err != nil {
		return WrapExitError(ExitCommandError, "read failed", err)
	}
	if node == nil {
		out.Error(CodeNotFound, "node not found", map[string]string{"soul": soul})
		return NewExitError(ExitFailure, "node not found: "+soul)
	}

	data, err := node.MarshalJSON()
	if err != nil {
		return WrapExitError(ExitFailure, "encode node", err)
	}
	return out.Success(json.RawMessage(data), string(data))
}
