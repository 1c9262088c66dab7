package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/phrazzld/maintenance-orchestrator/internal/orchestrator"
	"github.com/phrazzld/maintenance-orchestrator/internal/store"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newProcessCmd(c *cli) *cobra.Command {
	var (
		userID      string
		input       string
		photo       string
		mimeType    string
		destination string
		migrate     bool
	)

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Run one request or photo through the orchestrator and print the result as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(input) == "" && photo == "" {
				return fmt.Errorf("one of --input or --photo is required")
			}

			ctx := cmd.Context()
			app, err := c.openApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = app.close() }()

			if migrate {
				if err := app.database.migrate(ctx, store.MigrateUp, app.logger); err != nil {
					return fmt.Errorf("failed to apply migrations: %w", err)
				}
			}

			if err := app.queue.Start(ctx); err != nil {
				return fmt.Errorf("failed to start outbound queue: %w", err)
			}
			defer func() {
				if err := app.queue.Drain(ctx, drainTimeout); err != nil {
					app.logger.Warn("outbound queue not drained", "error", err)
				}
				_ = app.queue.Stop(ctx)
			}()

			var result any
			if photo != "" {
				fs := c.deps.app.fs
				if fs == nil {
					fs = afero.NewOsFs()
				}
				data, err := afero.ReadFile(fs, photo)
				if err != nil {
					return fmt.Errorf("failed to read photo: %w", err)
				}
				result, err = app.orchestrator.AnalyzePhoto(ctx, orchestrator.PhotoRequest{
					UserID:      userID,
					Data:        data,
					MIMEType:    mimeType,
					Caption:     input,
					Destination: destination,
				})
				if err != nil {
					return err
				}
			} else {
				result, err = app.orchestrator.ProcessRequest(ctx, orchestrator.Request{
					UserID:      userID,
					Input:       input,
					Destination: destination,
				})
				if err != nil {
					return err
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user the request is made on behalf of")
	cmd.Flags().StringVar(&input, "input", "", "request text, or the caption when --photo is given")
	cmd.Flags().StringVar(&photo, "photo", "", "path to a photo to analyze")
	cmd.Flags().StringVar(&mimeType, "mime-type", "image/jpeg", "MIME type of --photo")
	cmd.Flags().StringVar(&destination, "destination", "", "deliver the reply to this destination as well")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations first")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
