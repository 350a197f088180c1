// Copyright (c) 2021-2026 Apple Inc. and the Swift Profile Recorder project authors
// Licensed under the Apache License, Version 2.0.
// SPDX-License-Identifier: Apache-2.0

// Command swipr-sample is a thin CLI wrapper around the swipr package,
// useful for capturing a sample of the current process's own stacks
// during manual testing, or as a template for embedding the sampler in a
// larger binary.
package main

import (
	"os"

	"github.com/spf13/cobra"

	swipr "github.com/dayanruben/swift-profile-recorder"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		count    int
		interval int64
		output   string
		exitCode int
	)

	cmd := &cobra.Command{
		Use:   "swipr-sample",
		Short: "Capture a wall-clock stack sample of the running process",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := swipr.Initialize(); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if output != "-" && output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			exitCode = swipr.RequestSample(w, count, interval)
			return nil
		},
		SilenceUsage: true,
	}

	cmd.Flags().IntVar(&count, "count", 1, "number of sampling rounds to run")
	cmd.Flags().Int64Var(&interval, "interval", 10_000, "microseconds to wait between rounds")
	cmd.Flags().StringVar(&output, "output", "-", "output path, or - for stdout")

	if err := cmd.Execute(); err != nil {
		return 1
	}
	return exitCode
}
