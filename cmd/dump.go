package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/tagfeed/internal/export"
	"github.com/JakeFAU/tagfeed/internal/feed"
)

func newDumpCmd() *cobra.Command {
	var (
		flags  mountFlags
		output string
	)
	cmd := &cobra.Command{
		Use:   "dump [tag]",
		Short: "Scroll a tag feed to the end and write it as JSON",
		Long: `dump sweeps the viewport down the whole feed, letting every batch render
and every post load, then writes the result to a local path or a gs://bucket/object
URI.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := appInstance.Config()
			logger := appInstance.Logger()
			ctx := cmd.Context()

			if !cmd.Flags().Changed("output") {
				output = cfg.Export.Output
			}
			dest, err := export.ParseDestination(output)
			if err != nil {
				return fmt.Errorf("parse output: %w", err)
			}

			mount := flags.mount(cmd, cfg.Mount(), args)
			sess, err := appInstance.NewSession(mount)
			if err != nil {
				return err
			}
			defer sess.Close()

			if err := sess.Start(ctx); err != nil {
				var cfgErr *feed.ConfigError
				if errors.As(err, &cfgErr) {
					return err
				}
				logger.Warn("feed did not start", zap.Error(err))
			} else if err := sess.ScrollToEnd(ctx, cfg.View.PageHeight); err != nil {
				return fmt.Errorf("scroll feed: %w", err)
			}

			doc := export.Build(sess.Snapshot(), time.Now())
			store, closeStore, err := export.Open(ctx, dest)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := closeStore(); cerr != nil {
					logger.Warn("close export store", zap.Error(cerr))
				}
			}()
			uri, err := export.Write(ctx, store, dest.Path, cfg.Export.ContentType, doc)
			if err != nil {
				return err
			}
			logger.Info("feed exported",
				zap.String("uri", uri),
				zap.Int("total", doc.Total),
				zap.Int("loaded", doc.Loaded),
				zap.Int("failed", doc.Failed),
			)
			fmt.Fprintln(cmd.OutOrStdout(), uri)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "local path or gs://bucket/object (default from export.output)")
	return cmd
}
