// Package app provides the commands of the oauth2u binary.
package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by the binary,
// e.g. OAUTH2U_CODE_TTL for --code-ttl.
const EnvPrefix = "OAUTH2U"

// BuildInfo describes the running binary
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// NewRootCmd creates the root command with all subcommands attached.
func NewRootCmd(info BuildInfo) *cobra.Command {
	v := newViper()

	rootCmd := &cobra.Command{
		Use:               "oauth2u",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Short:             "OAuth 2.0 authorization code server",
		Long: `oauth2u issues single-use authorization codes on GET /authorize and
exchanges them for access tokens on POST /access-token.

Every flag can also be set through the environment (prefix OAUTH2U_, dashes
become underscores) or a YAML config file passed with --config.`,
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return readConfigFile(v)
		},
	}

	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("log-level", defaultLogLevel, "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", defaultLogFormat, "Log format (text, json)")
	if err := v.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		panic(fmt.Sprintf("failed to bind persistent flags: %v", err))
	}

	rootCmd.AddCommand(
		newServeCmd(v, info),
		newHashSecretCmd(),
		newVersionCmd(info),
	)

	return rootCmd
}

// newViper returns a viper instance reading OAUTH2U_* environment variables
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log-level", defaultLogLevel)
	v.SetDefault("log-format", defaultLogFormat)
	return v
}

// readConfigFile loads the file named by the config key, if any
func readConfigFile(v *viper.Viper) error {
	path := v.GetString("config")
	if path == "" {
		return nil
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return nil
}
