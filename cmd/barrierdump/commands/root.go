// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package commands implements the barrierdump command line.
package commands

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gviegas/barrier/internal/logging"
)

// Execute runs the root command with the process'
// arguments.
func Execute() error { return NewRootCommand().Execute() }

// NewRootCommand creates the root command and its
// subcommands.
// Every command created by a call shares one viper
// instance, so that flags, environment variables
// (prefixed with BARRIERDUMP_) and the config file are
// merged in that order of precedence.
func NewRootCommand() *cobra.Command {
	v := viper.New()
	var cfgFile string
	root := &cobra.Command{
		Use:   "barrierdump",
		Short: "Compute GPU barriers for traces of commands",
		Long: `Barrierdump replays traces of GPU commands on a simulated device
and prints the barriers that each draw call needs.`,
		Version:      "0.1.0",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := readConfig(v, cfgFile); err != nil {
				return err
			}
			return logging.Init(v.GetString("log-level"), v.GetString("log-file"), true)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return logging.Close()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.barrierdump/config.yaml)")
	pf.String("log-level", "warn", "log level (debug, info, warn, error)")
	pf.String("log-file", "", "also append logs to this file")
	pf.Bool("no-color", false, "disable colored output")
	v.BindPFlag("log-level", pf.Lookup("log-level"))
	v.BindPFlag("log-file", pf.Lookup("log-file"))
	v.BindPFlag("no-color", pf.Lookup("no-color"))

	root.AddCommand(newReplayCommand(v))
	return root
}

func readConfig(v *viper.Viper, cfgFile string) error {
	v.SetEnvPrefix("BARRIERDUMP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "barrierdump: reading %s", cfgFile)
		}
		return nil
	}
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".barrierdump"))
	}
	v.AddConfigPath(".")
	v.SetConfigType("yaml")
	v.SetConfigName("config")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return errors.Wrap(err, "barrierdump: reading config")
		}
	}
	return nil
}
