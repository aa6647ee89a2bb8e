package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/menta2k/image-features/internal/utils"
	"github.com/menta2k/image-features/pkg/store"
)

// KeysOptions holds flags for the keys command.
type KeysOptions struct {
	FeaturePath string
	Prefix      string
	Runs        bool
	Driver      string
}

// KeysResult is the JSON payload of the keys command.
type KeysResult struct {
	Path string      `json:"path"`
	Keys []string    `json:"keys"`
	Runs []store.Run `json:"runs,omitempty"`
}

// NewKeysCommand creates the keys command.
func NewKeysCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &KeysOptions{}

	cmd := &cobra.Command{
		Use:   "keys",
		Short: "List the image names stored in a feature file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeys(rootOpts, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.FeaturePath, "feature-path", "", "feature file (required)")
	cmd.Flags().StringVar(&opts.Prefix, "prefix", "", "only names starting with this prefix")
	cmd.Flags().BoolVar(&opts.Runs, "runs", false, "also list the recorded extraction runs")
	cmd.Flags().StringVar(&opts.Driver, "driver", "", "SQLite driver (sqlite3|sqlite)")

	_ = cmd.MarkFlagRequired("feature-path")

	return cmd
}

func runKeys(rootOpts *RootOptions, opts *KeysOptions, cmd *cobra.Command) error {
	// Opening would create an empty store.
	if !utils.FileExists(opts.FeaturePath) {
		return NewExitError(ExitCommandError, fmt.Sprintf("feature file %s does not exist", opts.FeaturePath))
	}
	driver := opts.Driver
	if driver == "" {
		driver = rootOpts.Config.Extraction.Driver
	}
	st, err := store.OpenWithConfig(opts.FeaturePath, store.Config{Driver: driver, Logger: rootOpts.Logger})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open feature file", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	res := KeysResult{Path: opts.FeaturePath}
	if opts.Prefix != "" {
		res.Keys, err = st.KeysWithPrefix(ctx, opts.Prefix)
	} else {
		res.Keys, err = st.Keys(ctx)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list keys", err)
	}
	if opts.Runs {
		if res.Runs, err = st.Runs(ctx); err != nil {
			return WrapExitError(ExitFailure, "failed to list runs", err)
		}
	}

	return rootOpts.formatter(cmd).Success(res, func(w io.Writer) error {
		for _, k := range res.Keys {
			if _, err := fmt.Fprintln(w, k); err != nil {
				return err
			}
		}
		for _, r := range res.Runs {
			if _, err := fmt.Fprintf(w, "# run %s %s started=%s extracted=%d skipped=%d\n",
				r.ID, r.Preset, r.StartedAt.Format(time.RFC3339), r.Extracted, r.Skipped); err != nil {
				return err
			}
		}
		return nil
	})
}
