package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"factorchain/integrations/exports"
	"factorchain/integrations/webhooks"
	"factorchain/rpc/api"
	"factorchain/rpc/client"
)

const exportPageSize = 500

func newExportCmd(a *app) *cobra.Command {
	var (
		outDir     string
		webhookURL string
		secretEnv  string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the loan book as CSV, Parquet and JSONL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rows, err := fetchLoanBook(cmd.Context(), a.reader())
			if err != nil {
				return err
			}
			result, err := exports.NewExporter(outDir).Write(rows)
			if err != nil {
				return err
			}
			if webhookURL != "" {
				if err := notifyLoanBook(cmd.Context(), webhookURL, envOr(secretEnv, ""), result); err != nil {
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&outDir, "out", "exports", "base directory for export runs")
	flags.StringVar(&webhookURL, "webhook-url", "", "notify this endpoint when the export is written")
	flags.StringVar(&secretEnv, "webhook-secret-env", "FACTORING_WEBHOOK_SECRET", "environment variable holding the webhook signing secret")
	return cmd
}

func fetchLoanBook(ctx context.Context, c *client.Client) ([]exports.Row, error) {
	var rows []exports.Row
	for offset := 0; ; offset += exportPageSize {
		page, err := c.Loans(ctx, api.LoanFilter{Offset: offset, Limit: exportPageSize})
		if err != nil {
			return nil, err
		}
		for _, loan := range page {
			rows = append(rows, exports.RowFromResult(loan))
		}
		if len(page) < exportPageSize {
			return rows, nil
		}
	}
}

func notifyLoanBook(ctx context.Context, url, secret string, result *exports.Result) error {
	if secret == "" {
		return fmt.Errorf("webhook secret is empty")
	}
	dispatcher, err := webhooks.NewDispatcher(url, []byte(secret), webhooks.WithRetryPolicy(3, time.Second, 5*time.Second))
	if err != nil {
		return err
	}
	defer dispatcher.Close()
	return dispatcher.DeliverLoanBookReady(ctx, webhooks.LoanBookReadyPayload{
		RunID:       result.RunID.String(),
		Rows:        result.Rows,
		Files:       []string{result.CSVPath, result.ParquetPath, result.JSONLPath},
		Checksum:    result.Checksum,
		GeneratedAt: time.Now().UTC(),
	})
}
