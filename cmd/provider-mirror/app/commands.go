// Package app provides the command line interface of provider-mirror.
package app

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/provider-mirror/internal/buildinfo"
	"github.com/stacklok/provider-mirror/internal/logging"
)

// NewRootCmd creates the root command. level is raised to DEBUG when --debug is set.
func NewRootCmd(level *slog.LevelVar) *cobra.Command {
	v := newViper()

	rootCmd := &cobra.Command{
		Use:               "provider-mirror",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Short:             "Terraform provider version puller",
		Long: `provider-mirror resolves which versions of each configured Terraform provider to keep,
writes one manifest per provider, and can pass every manifest to a mirror command.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if v.GetBool("debug") && level != nil {
				level.Set(slog.LevelDebug)
			}
		},
		Run: func(cmd *cobra.Command, _ []string) {
			// If no subcommand is provided, print help
			if err := cmd.Help(); err != nil {
				slog.Error("Error displaying help", "error", err)
			}
		},
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	if err := v.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		slog.Error("Error binding debug flag", "error", err)
	}

	rootCmd.AddCommand(newRunCmd(v))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// newViper returns a viper instance reading PROVIDER_MIRROR_* overrides, so that
// --registry-url can also be set as PROVIDER_MIRROR_REGISTRY_URL
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(logging.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := buildinfo.Get()
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return fmt.Errorf("error retrieving format flag: %w", err)
			}

			if format == "json" {
				output, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("error formatting version info as JSON: %w", err)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(output))
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "provider-mirror %s (commit %s, built %s, %s, %s)\n",
				info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
			return err
		},
	}
	cmd.Flags().String("format", "", "Output format (json)")
	return cmd
}
