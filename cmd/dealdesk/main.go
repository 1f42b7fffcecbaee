package main

import (
	"fmt"
	"os"

	"github.com/fentz26/dealdesk/internal/crm"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "dealdesk",
	Short:        "dealdesk - deal pipeline and activity CLI",
	Long:         `dealdesk tracks deals across pipeline stages, with a per-deal activity stream of messages and follow-up tasks.`,
	SilenceUsage: true,
	// No RunE - defaults to showing help when no subcommand is provided
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(crm.Version)
	},
}

var (
	apiAddr    string
	configPath string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:7480", "API server address")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.dealdesk/config.yaml)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(dealCmd)
	rootCmd.AddCommand(stageCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(msgCmd)
	rootCmd.AddCommand(prefsCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
