package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/epubify/internal/api"
	"github.com/jackzampolin/epubify/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	logLevel     string
)

var rootCmd = &cobra.Command{
	Use:   "epubify",
	Short: "Convert web documentation trees into EPUB books",
	Long: `epubify turns a documentation site into a single EPUB book.

Given the root page of a documentation tree it discovers the linked pages,
fetches them in parallel, extracts their main content and packages the
result as an EPUB 3 archive.

Run it as a server (epubify serve) and drive it over HTTP or with the
epubify api commands, or convert a single tree locally with epubify convert.`,
	Version:      version.GitRelease,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.epubify/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "epubify home directory (default: ~/.epubify)",
	)
	rootCmd.PersistentFlags().StringVar(
		&outputFormat, "format", "yaml", "output format: yaml or json",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "", "log level override: debug, info, warn or error",
	)

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}
