package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/junbin-yang/casan-go/pkg/utils/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "casan-master",
	Short: "CASAN master: HTTP gateway to constrained slaves",
	Long: `casan-master discovers CASAN slaves on Ethernet, 802.15.4 and UDP
networks, associates them and exposes their resources over HTTP.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default <exe dir>/casan.yml, then /etc/casan.yml)")
	rootCmd.AddCommand(runCmd, checkCmd, versionCmd)
}

// loadConfig 读取--config指定的或默认位置的配置
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
