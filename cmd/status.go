package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"

	"crimewatch/internal/core"
	"crimewatch/internal/ledger"
)

var statusCmd = &cobra.Command{
	Use:   "status <transaction-hash>",
	Short: "Poll a running server for the ledger status of a transaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		wait, _ := cmd.Flags().GetBool("wait")
		interval, _ := cmd.Flags().GetDuration("interval")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		client := resty.New().
			SetBaseURL(server).
			SetTimeout(5 * time.Second).
			SetRetryCount(2)

		ctx := cmd.Context()
		if wait && timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		for {
			view, err := fetchStatus(client.R().SetContext(ctx), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", view.Hash, view.Display)
			if view.Status == ledger.StatusNotFound {
				return fmt.Errorf("transaction %s not found", args[0])
			}
			if !wait || view.Status.Terminal() {
				return nil
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("waiting for %s: %w", args[0], ctx.Err())
			case <-time.After(interval):
			}
		}
	},
}

func init() {
	flags := statusCmd.Flags()
	flags.String("server", "http://localhost:8080", "base URL of the crimewatch API")
	flags.Bool("wait", false, "poll until the transaction settles")
	flags.Duration("interval", time.Second, "poll interval with --wait")
	flags.Duration("timeout", 30*time.Second, "give up waiting after this long")
}

func fetchStatus(req *resty.Request, hash string) (core.TransactionView, error) {
	var view core.TransactionView
	resp, err := req.SetPathParam("hash", hash).Get("/api/v1/transactions/{hash}/status")
	if err != nil {
		return view, fmt.Errorf("query status: %w", err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusNotFound {
		return view, fmt.Errorf("query status: unexpected response %s", resp.Status())
	}
	if err := json.Unmarshal(resp.Body(), &view); err != nil {
		return view, fmt.Errorf("decode status: %w", err)
	}
	return view, nil
}
