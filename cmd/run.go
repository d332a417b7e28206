package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/url-ingest/internal/importer"
)

type runFlags struct {
	file    string
	timeout time.Duration
}

// newRunCmd processes a URL file once and prints each finished job as a
// JSON line.
func newRunCmd() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest every URL in a file and print the results",
		Long: `Reads URLs from a .txt, .csv or .json file, runs them through the worker
pool and writes one JSON object per job to stdout once all jobs are done.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBatch(cmd, flags)
		},
	}
	cmd.Flags().StringVarP(&flags.file, "file", "f", "", "file of URLs to ingest")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 0, "give up after this long (0 waits forever)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runBatch(cmd *cobra.Command, flags *runFlags) (err error) {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err = errors.Join(err, appInstance.Close(closeCtx))
	}()

	urls, err := importer.ParseFile(flags.file)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		return fmt.Errorf("no urls found in %s", flags.file)
	}

	ctx := cmd.Context()
	if flags.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flags.timeout)
		defer cancel()
	}
	jobs, runErr := appInstance.RunBatch(ctx, urls)

	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, job := range jobs {
		if encErr := enc.Encode(job); encErr != nil {
			return fmt.Errorf("write result: %w", encErr)
		}
	}
	return runErr
}
