package cli

import (
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/pipefeed/internal/config"
	"github.com/GriffinCanCode/pipefeed/internal/producer"
)

func newListCmd() *cobra.Command {
	var pcfg producer.Config

	cmd := &cobra.Command{
		Use:   "list [ROOT]",
		Short: "Write one path\\tsize\\tkind line per entry under ROOT",
		Long: "list walks ROOT (default \".\") and writes the record stream that run consumes.\n" +
			"It is the default child of run.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			pcfg.Root = "."
			if len(args) == 1 {
				pcfg.Root = args[0]
			}
			_, err = producer.List(cmd.Context(), pcfg, cmd.OutOrStdout(), logger.Named("list").Logger)
			return err
		},
	}

	cmd.Flags().BoolVar(&pcfg.Mime, "mime", false, "Report detected MIME types as the kind of regular files")
	cmd.Flags().StringVar(&pcfg.Pattern, "pattern", "", "Only list paths matching this doublestar glob (relative to ROOT)")
	cmd.Flags().IntVar(&pcfg.MaxDepth, "max-depth", 0, "Limit recursion depth (0 = unlimited)")
	return cmd
}
