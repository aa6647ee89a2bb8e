package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/menta2k/image-features/internal/config"
	"github.com/menta2k/image-features/pkg/extract"
	"github.com/menta2k/image-features/pkg/presets"
	"github.com/menta2k/image-features/pkg/translate"
)

// ExtractOptions holds flags for the extract command.
type ExtractOptions struct {
	Preset      string
	ImageDir    string
	ExportDir   string
	FeaturePath string
	ImageList   string
	AsHalf      bool
	Overwrite   bool
	Translate   string
	Match       string
	Driver      string
}

// NewExtractCommand creates the extract command.
func NewExtractCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExtractOptions{}

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract features for a directory of images",
		Long: `Run a preset's model over every image and store the results.

Images already present in the feature file are skipped, so an interrupted
run can be restarted with the same arguments.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(rootOpts, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Preset, "conf", "", "preset name (see `presets`)")
	cmd.Flags().StringVar(&opts.ImageDir, "image-dir", "", "root directory of the images")
	cmd.Flags().StringVar(&opts.ExportDir, "export-dir", "", "directory receiving the feature file")
	cmd.Flags().StringVar(&opts.FeaturePath, "feature-path", "", "explicit feature file, overrides --export-dir")
	cmd.Flags().StringVar(&opts.ImageList, "image-list", "", "file listing image names, one per line")
	cmd.Flags().BoolVar(&opts.AsHalf, "as-half", false, "store float arrays as float16")
	cmd.Flags().BoolVar(&opts.Overwrite, "overwrite", false, "re-extract images already in the feature file")
	cmd.Flags().StringVar(&opts.Translate, "translate", "", "domain translation applied before inference (tonemap)")
	cmd.Flags().StringVar(&opts.Match, "translate-match", translate.DefaultMatch, "translate only names containing this substring")
	cmd.Flags().StringVar(&opts.Driver, "driver", "", "SQLite driver (sqlite3|sqlite)")

	return cmd
}

// mergeConfig fills flags the user did not set from the configuration.
func (o *ExtractOptions) mergeConfig(cmd *cobra.Command, cfg *config.Config) {
	ex := cfg.Extraction
	if o.Preset == "" {
		o.Preset = ex.Preset
	}
	if o.ImageDir == "" {
		o.ImageDir = ex.ImageDir
	}
	if o.ExportDir == "" {
		o.ExportDir = ex.ExportDir
	}
	if !cmd.Flags().Changed("as-half") {
		o.AsHalf = ex.AsHalf
	}
	if !cmd.Flags().Changed("overwrite") {
		o.Overwrite = ex.Overwrite
	}
	if o.Driver == "" {
		o.Driver = ex.Driver
	}
}

func runExtract(rootOpts *RootOptions, opts *ExtractOptions, cmd *cobra.Command) error {
	opts.mergeConfig(cmd, rootOpts.Config)
	out := rootOpts.formatter(cmd)

	if opts.ImageDir == "" {
		return NewExitError(ExitCommandError, "--image-dir is required")
	}
	conf, err := presets.Get(opts.Preset)
	if err != nil {
		return classify("failed to select preset", err)
	}
	applyBackend(&conf, rootOpts.Config)

	var tr translate.Translator
	if opts.Translate != "" {
		if tr, err = translate.Get(opts.Translate, opts.Match); err != nil {
			return classify("failed to select translator", err)
		}
	}

	res, err := extract.Run(cmd.Context(), extract.Options{
		Preset:      opts.Preset,
		Conf:        conf,
		ImageDir:    opts.ImageDir,
		ExportDir:   opts.ExportDir,
		FeaturePath: opts.FeaturePath,
		AsHalf:      opts.AsHalf,
		ImageList:   opts.ImageList,
		Overwrite:   opts.Overwrite,
		Translator:  tr,
		Driver:      opts.Driver,
		Logger:      rootOpts.Logger,
	})
	if err != nil {
		return classify("extraction failed", err)
	}

	return out.Success(res, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "%s: %d extracted, %d skipped\n", res.Path, res.Extracted, res.Skipped)
		return err
	})
}

// applyBackend fills the server settings of caption presets from the
// configuration. Options set by the preset win.
func applyBackend(conf *presets.Conf, cfg *config.Config) {
	if conf.Model.Name != "caption" {
		return
	}
	if conf.Model.Options == nil {
		conf.Model.Options = map[string]any{}
	}
	name, _ := conf.Model.Options["backend"].(string)
	if name == "" {
		name = "ollama"
	}
	b, ok := cfg.Backend(name)
	if !ok {
		return
	}
	for key, val := range map[string]string{
		"url":          b.URL,
		"vision_model": b.VisionModel,
		"embed_model":  b.EmbedModel,
	} {
		if _, set := conf.Model.Options[key]; !set && val != "" {
			conf.Model.Options[key] = val
		}
	}
}
