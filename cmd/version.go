package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/babelcloud/deskstream/internal/version"
)

func NewVersionCommand() *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Info()
			if outputFormat == "json" {
				data, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("Version:          %s\n", info["Version"])
			fmt.Printf("Protocol version: %s\n", info["ProtocolVersion"])
			fmt.Printf("Go version:       %s\n", info["GoVersion"])
			fmt.Printf("Git commit:       %s\n", info["GitCommit"])
			fmt.Printf("Built:            %s\n", info["FormattedTime"])
			fmt.Printf("OS/Arch:          %s/%s\n", info["OS"], info["Arch"])
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "output", "o", "text", "Output format (text or json)")
	return cmd
}
