package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/menta2k/image-features/pkg/presets"
)

// NewPresetsCommand creates the presets command.
func NewPresetsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the available extraction presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			all := make(map[string]presets.Conf)
			for _, name := range presets.Names() {
				c, err := presets.Get(name)
				if err != nil {
					return classify("failed to list presets", err)
				}
				all[name] = c
			}
			return rootOpts.formatter(cmd).Success(all, func(w io.Writer) error {
				return presets.WriteTable(w)
			})
		},
	}
}
