package cmd

import (
	"fmt"
	"os"

	"github.com/canvasart/tracker/config"
	"github.com/spf13/cobra"
)

var (
	flagVersion bool // print version and exit

	rootCmd = &cobra.Command{
		Use:   "tracker",
		Short: "NFT platform chain event tracker",
		Run:   start,
	}
)

func init() {
	rootCmd.Flags().BoolVarP(&flagVersion, "version", "v", false, "If true, print version and exit")
}

func start(cmd *cobra.Command, args []string) {
	if flagVersion {
		config.DumpVersionInfo()
		return
	}

	cmd.Help()
}

// Execute is the command line entry point.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
