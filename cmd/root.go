package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/triunity/node/logx"
)

var rootCmd = &cobra.Command{
	Use:   "triunity",
	Short: "TriUnity node CLI",
	Long:  "Command line interface for running a TriUnity node: adaptive consensus routing and block synchronization.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logx.Error("CMD", "Command execution failed:", err)
		os.Exit(1)
	}
}
