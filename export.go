package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rowmark/rowmark/internal/export"
	"github.com/rowmark/rowmark/internal/sync"
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [table]",
		Short: "Export the audit trail as JSON Lines",
		Long: `Write the complete audit trail, one run per line and oldest first, as
JSON Lines. An optional table argument restricts the export to that
table's runs, including runs of pairs since removed from the config.

With --upload the finished file is pushed to the S3-compatible bucket
configured under [export]. Upload needs a real file, not stdout.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runExport,
	}

	cmd.Flags().StringP("output", "o", "-", "output file path, or - for stdout")
	cmd.Flags().Bool("upload", false, "upload the finished file per [export] config")

	return cmd
}

func runExport(cmd *cobra.Command, args []string) error {
	logger := buildLogger()

	output, _ := cmd.Flags().GetString("output")
	upload, _ := cmd.Flags().GetBool("upload")

	if upload && output == "-" {
		return fmt.Errorf("--upload requires --output FILE (stdout cannot be uploaded)")
	}

	table := ""
	if len(args) > 0 {
		table = args[0]
	}

	store, err := openAuditStore(logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()

	runs, err := store.AllRuns(ctx, table)
	if err != nil {
		return err
	}

	if output == "-" {
		_, err := export.WriteRuns(os.Stdout, runs)

		return err
	}

	count, err := writeExportFile(output, runs)
	if err != nil {
		return err
	}

	statusf(flagQuiet, "Exported %s runs to %s\n", formatCount(int64(count)), output)

	if !upload {
		return nil
	}

	uploader, err := export.NewUploader(resolvedCfg.Export)
	if err != nil {
		return err
	}

	if err := uploader.Upload(ctx, output); err != nil {
		if errors.Is(err, export.ErrNotConfigured) {
			return fmt.Errorf("--upload requires endpoint and bucket under [export] in %s", resolvedCfgPath)
		}

		return err
	}

	statusf(flagQuiet, "Uploaded %s to bucket %q\n", filepath.Base(output), resolvedCfg.Export.Bucket)

	return nil
}

// writeExportFile writes runs to path, closing before returning so the
// upload path reads a fully flushed file.
func writeExportFile(path string, runs []sync.SyncRun) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("creating export file: %w", err)
	}

	count, err := export.WriteRuns(f, runs)
	if err != nil {
		f.Close()

		return count, err
	}

	if err := f.Close(); err != nil {
		return count, fmt.Errorf("closing export file: %w", err)
	}

	return count, nil
}
