// SPDX-License-Identifier: MIT
package cmd

import (
	"locator/internal/config"
	applog "locator/internal/log"
	"locator/pkg/build"

	"github.com/spf13/cobra"
)

// Commands selected by ParseArgs.
const (
	CommandRun     = "run"
	CommandAnalyze = "analyze"
	CommandList    = "list"
	CommandVersion = "version"
)

// Options holds the parsed command line.
type Options struct {
	Command    string
	ConfigPath string
	File       string // WAV file for analyze

	DeviceID   int
	deviceSet  bool
	Record     bool
	OutputFile string
	Verbose    bool
	TUI        bool // run: show the live monitor
	JSON       bool // analyze: print JSON lines instead of text
}

// ParseArgs parses args (without the program name). Command is empty when
// cobra handled the invocation itself, as for --help and --version.
func ParseArgs(args []string) (*Options, error) {
	buildInfo := build.GetBuildFlags()
	options := &Options{}

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         build.Description,
		Version:       buildInfo.Version,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			options.Command = CommandRun
			return nil
		},
	}

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	rootCmd.Flags().BoolVar(&options.TUI, "tui", false,
		"Show live delays and levels in the terminal")

	// List command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available audio devices",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			options.Command = CommandList
		},
	}

	// Analyze command
	analyzeCmd := &cobra.Command{
		Use:   "analyze <file.wav>",
		Short: "Estimate delays offline from a multi-channel WAV file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			options.Command = CommandAnalyze
			options.File = args[0]
		},
	}
	analyzeCmd.Flags().BoolVar(&options.JSON, "json", false,
		"Print one JSON snapshot per line")

	// Version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			options.Command = CommandVersion
		},
	}
	rootCmd.AddCommand(listCmd, analyzeCmd, versionCmd)

	// Configuration
	rootCmd.PersistentFlags().StringVar(&options.ConfigPath, "config", "",
		"Path to the YAML configuration. Default is ./"+config.DefaultPath+" if present")

	// Audio Device Configuration
	rootCmd.PersistentFlags().IntVarP(&options.DeviceID, "device", "d", config.DefaultInputDevice,
		"Specify input device ID. Use 'list' command to see available devices.")

	// Recording Configuration
	rootCmd.PersistentFlags().BoolVarP(&options.Record, "record", "r", false,
		"Record audio from the specified input device")
	rootCmd.PersistentFlags().StringVarP(&options.OutputFile, "output", "o", "",
		"Output file name. Default is recording-DD-MM-YYYY-HHMMSS.wav")

	// Debug Configuration
	rootCmd.PersistentFlags().BoolVarP(&options.Verbose, "verbose", "v", false,
		"Show verbose output")

	// A nil slice would make cobra fall back to os.Args.
	rootCmd.SetArgs(append([]string{}, args...))
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}

	options.deviceSet = rootCmd.PersistentFlags().Changed("device")
	return options, nil
}

// Apply overrides cfg with the flags that were given.
func (o *Options) Apply(cfg *config.Config) {
	if o.deviceSet {
		cfg.Audio.InputDevice = o.DeviceID
	}
	if o.Record {
		cfg.Recording.Enabled = true
	}
	if o.OutputFile != "" {
		cfg.Recording.OutputFile = o.OutputFile
	}
	if o.Verbose {
		cfg.Debug = true
		cfg.LogLevel = applog.LevelDebug.String()
	}
}
