package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/menta2k/image-features/pkg/whitening"
)

// WhitenOptions holds flags for the whiten command.
type WhitenOptions struct {
	FeaturePath string
	Components  int
	Epsilon     float64
	Partition   string
	Key         string
	SaveModel   string
	Output      string
	Driver      string
}

// NewWhitenCommand creates the whiten command.
func NewWhitenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WhitenOptions{}

	cmd := &cobra.Command{
		Use:   "whiten",
		Short: "Fit PCA whitening and write a whitened copy of a feature file",
		Long: `Fit a PCA whitening on the global descriptors of one partition and
write every group of the feature file, projected, to <stem>_white.db.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWhiten(rootOpts, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.FeaturePath, "feature-path", "", "feature file to whiten (required)")
	cmd.Flags().IntVar(&opts.Components, "components", 0, "retained dimensions, 0 keeps all")
	cmd.Flags().Float64Var(&opts.Epsilon, "epsilon", 0, "relative eigenvalue floor")
	cmd.Flags().StringVar(&opts.Partition, "partition", "", "top-level group used for fitting")
	cmd.Flags().StringVar(&opts.Key, "key", "", "dataset used for fitting")
	cmd.Flags().StringVar(&opts.SaveModel, "save-model", "", "write the fitted parameters to this .npz file")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output feature file (default <stem>_white.db)")
	cmd.Flags().StringVar(&opts.Driver, "driver", "", "SQLite driver (sqlite3|sqlite)")

	_ = cmd.MarkFlagRequired("feature-path")

	return cmd
}

func runWhiten(rootOpts *RootOptions, opts *WhitenOptions, cmd *cobra.Command) error {
	cfg := rootOpts.Config
	w := whitening.Options{
		Components: opts.Components,
		Epsilon:    opts.Epsilon,
		Partition:  opts.Partition,
		Key:        opts.Key,
		SavePath:   opts.SaveModel,
		OutputPath: opts.Output,
		Driver:     opts.Driver,
		Logger:     rootOpts.Logger,
	}
	if !cmd.Flags().Changed("components") {
		w.Components = cfg.Whitening.Components
	}
	if w.Epsilon == 0 {
		w.Epsilon = cfg.Whitening.Epsilon
	}
	if w.Partition == "" {
		w.Partition = cfg.Whitening.Partition
	}
	if w.Key == "" {
		w.Key = cfg.Whitening.Key
	}
	if w.Driver == "" {
		w.Driver = cfg.Extraction.Driver
	}

	res, err := whitening.Run(cmd.Context(), opts.FeaturePath, w)
	if err != nil {
		return classify("whitening failed", err)
	}

	return rootOpts.formatter(cmd).Success(res, func(out io.Writer) error {
		_, err := fmt.Fprintf(out, "%s: fitted on %d rows, %d dims, %d transformed, %d copied\n",
			res.Path, res.FitRows, res.Dim, res.Transformed, res.Copied)
		return err
	})
}
