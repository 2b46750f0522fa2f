package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/babelcloud/deskstream/config"
	"github.com/babelcloud/deskstream/internal/util"
	"github.com/babelcloud/deskstream/internal/version"
)

var (
	verbose    bool
	configFile string

	rootCmd = &cobra.Command{
		Use:   "deskstream",
		Short: "Remote desktop streaming",
		Long: `deskstream streams a desktop's screen and audio to a remote viewer over TCP and
injects the viewer's mouse input back through a UDP command channel.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			util.SetVerbose(verbose)
			util.SetupGlobalLogger()
			if configFile != "" {
				if err := config.LoadFile(configFile); err != nil {
					return err
				}
			}
			if used := config.ConfigFileUsed(); used != "" {
				util.GetLogger().Debug("Using config file", "path", used)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flag("version").Changed {
				fmt.Println(version.Short())
				return nil
			}
			return cmd.Help()
		},
	}
)

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default searches ./config.yaml, $XDG_CONFIG_HOME/deskstream, /etc/deskstream)")
	rootCmd.Flags().BoolP("version", "v", false, "Print version information and exit")

	rootCmd.AddCommand(NewServeCommand())
	rootCmd.AddCommand(NewViewCommand())
	rootCmd.AddCommand(NewVersionCommand())
}

// bindFlags routes each flag to its config key so that a flag given on the
// command line overrides config file and environment.
func bindFlags(cmd *cobra.Command, keys map[string]string) error {
	for flag, key := range keys {
		if err := config.BindFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}
	return nil
}
