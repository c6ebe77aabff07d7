// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/cinderhost/cinder/internal/config"
	"github.com/cinderhost/cinder/internal/datafile"
	"github.com/cinderhost/cinder/internal/runtime"
)

// NewCheckCmd creates the check subcommand.
func NewCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load every plugin without running it",
		Long: `Compile every plugin under <root>/plugins, validate its descriptor and
resolve dependencies. Init and PostInit are not called.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return checkPlugins(cmd.Context(), cmd.OutOrStdout(), cfg)
		},
	}
}

// checkPlugins reports one line per plugin and fails if any plugin could
// not be loaded or lost a dependency.
func checkPlugins(ctx context.Context, out io.Writer, cfg *config.Config) error {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt, err := runtime.New(ctx, cfg,
		runtime.WithLogger(quiet),
		runtime.WithTypes(registerHostTypes),
		runtime.WithDatafileStore(datafile.NewFileStore(cfg.DataDir())),
	)
	if err != nil {
		return oops.In("check").Wrapf(err, "create runtime")
	}
	defer func() { _ = rt.Close(ctx) }()

	m := rt.Manager()
	files, err := m.Discover(ctx)
	if err != nil {
		return oops.In("check").With("path", cfg.PluginsDir()).Wrap(err)
	}

	failed := 0
	for _, file := range files {
		if _, loadErr := m.Load(ctx, file); loadErr != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s: %v\n", file, loadErr) //nolint:errcheck // best-effort report
		}
	}
	for _, name := range m.ResolveDependencies() {
		failed++
		fmt.Fprintf(out, "FAIL %s: unmet dependency\n", name) //nolint:errcheck // best-effort report
	}
	for _, name := range m.Plugins() {
		p, _ := m.Get(name)
		fmt.Fprintf(out, "ok   %s (%s v%g by %s)\n", //nolint:errcheck // best-effort report
			name, p.Descriptor.Title, p.Descriptor.Version, p.Descriptor.Author)
	}

	if failed > 0 {
		return oops.In("check").Code("CHECK_FAILED").With("failed", failed).
			Errorf("%d of %d plugins failed", failed, len(files))
	}
	return nil
}
