package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/junbin-yang/casan-go/pkg/utils/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show build information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (built %s, %s)\n",
			config.APPNAME, config.VERSION, config.BUILD_TIME, config.GO_VERSION)
		return nil
	},
}
