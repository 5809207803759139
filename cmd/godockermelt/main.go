// Command godockermelt is the CLI shell around the delta-synthesis
// core: it parses flags, wires up logging, and maps errors onto the
// exit-code convention of spec.md §6. Argument parsing, registry
// access and image builds are all out of the core's scope; this
// binary is just the thinnest reasonable wrapper around
// internal/delta.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/brauner/go-docker-melt/internal/delta"
	"github.com/brauner/go-docker-melt/internal/deltaerr"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(deltaerr.ExitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "godockermelt",
		Short:         "Synthesize a minimal delta image between a base and an update image",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newDeltaCmd())
	return root
}

func newDeltaCmd() *cobra.Command {
	var opts delta.Options
	var verbose bool

	cmd := &cobra.Command{
		Use:   "delta",
		Short: "Compute the delta image between --base and --update",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.New()
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			}

			result, err := delta.Run(opts, log)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s/Dockerfile\n", result.OutDir)
			fmt.Fprintf(cmd.OutOrStdout(), "shared layers: %d, removed files: %d, removed dirs: %d\n",
				result.SharedLayers, len(result.RemovedFiles), len(result.RemovedDirs))
			fmt.Fprintf(cmd.OutOrStdout(), "delta size: %s (original update payload: %s)\n",
				result.SizeReport.HumanDelta(), result.SizeReport.HumanOriginal())
			if result.SizeReport.DeltaDigest != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "delta digest: %s\n", result.SizeReport.DeltaDigest)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.BaseArchive, "base", "", "path to the base image archive tarball")
	flags.StringVar(&opts.UpdateArchive, "update", "", "path to the update image archive tarball")
	flags.StringVar(&opts.BaseRef, "from", "", "base image reference to emit in FROM")
	flags.StringVar(&opts.WorkDir, "workdir", "", "staging directory")
	flags.StringVar(&opts.OutDir, "output", "", "output directory")
	flags.IntVar(&opts.MaxLayers, "max-layers", delta.DefaultMaxLayers, "maximum projected layer count")
	flags.BoolVar(&opts.AcceptBigger, "accept-bigger", false, "accept a delta that is larger than the update payload")
	flags.BoolVar(&opts.KeepWorkDir, "keep-workdir", false, "retain the staging directory on success")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	for _, required := range []string{"base", "update", "from", "workdir", "output"} {
		_ = cmd.MarkFlagRequired(required)
	}

	return cmd
}
