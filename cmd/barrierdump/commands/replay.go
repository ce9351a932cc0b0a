// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package commands

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gviegas/barrier/device"
	"github.com/gviegas/barrier/internal/logging"
	"github.com/gviegas/barrier/trace"
)

func newReplayCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <trace>",
		Short: "Replay a trace and print its barriers",
		Long: `Replay creates the resources of a trace (YAML or JSON) on a new
device, submits its commands once per frame and prints the barriers
computed for every draw call.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, v, args[0])
		},
	}
	f := cmd.Flags()
	f.Bool("common-opt", true, "assume that buffers decay to the common state between submissions")
	f.Bool("split-incoherent", false, "split first-use texture barriers over subresources in different states")
	f.Int("frames", 0, "number of submissions (default is the trace's)")
	v.BindPFlag("common-opt", f.Lookup("common-opt"))
	v.BindPFlag("split-incoherent", f.Lookup("split-incoherent"))
	v.BindPFlag("frames", f.Lookup("frames"))
	return cmd
}

func runReplay(cmd *cobra.Command, v *viper.Viper, path string) error {
	tr, err := trace.Load(path)
	if err != nil {
		return err
	}
	if n := v.GetInt("frames"); n > 0 {
		tr.Frames = n
	}

	cfg := device.DefaultConfig()
	cfg.AllowCommonOptimization = v.GetBool("common-opt")
	cfg.SplitIncoherentRanges = v.GetBool("split-incoherent")
	dev := device.New(nil, cfg)
	defer dev.Close()

	logging.Logger().WithFields(logrus.Fields{
		"trace":      path,
		"frames":     tr.Frames,
		"common-opt": cfg.AllowCommonOptimization,
		"split":      cfg.SplitIncoherentRanges,
	}).Info("barrierdump: replaying")
	run, err := trace.Replay(dev, tr)
	if err != nil {
		return err
	}
	return trace.Dump(cmd.OutOrStdout(), run, !v.GetBool("no-color"))
}
