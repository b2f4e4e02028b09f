package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tajiricircle/tajiri/client"
	"github.com/tajiricircle/tajiri/service/logging"
	"github.com/urfave/cli/v2"
)

func clientCommands() *cli.Command {
	return &cli.Command{
		Name:  "client",
		Usage: "HTTP client commands for interacting with the tajiri service",
		Subcommands: []*cli.Command{
			ingestCommand(),
			trustScoreCommand(),
			clientTransactionsCommand(),
		},
	}
}

func ingestCommand() *cli.Command {
	return &cli.Command{
		Name:      "ingest",
		Usage:     "Deliver an SMS for a phone owner",
		ArgsUsage: "PHONE TEXT",
		Description: `Send an SMS to POST /api/v1/sms and print the outcome.

With --must-jq the command fails unless the outcome matches every filter,
which makes it usable as a scripted assertion.

Example:
  tajiri client ingest 0712345678 "QK12ABC345 Confirmed. You have received Ksh1,500.00 from JOHN DOE" \
    --sender MPESA --must-jq '.status == "recorded"'`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "sender",
				Aliases: []string{"s"},
				Usage:   "SMS sender ID or number",
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "Display name of the phone owner",
			},
			mustJQFlag(),
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return fmt.Errorf("phone and sms text are required")
			}
			filters, err := compileFilters(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}

			out, err := newAPIClient(c).IngestSMS(c.Context, client.SMS{
				Phone:  c.Args().First(),
				Name:   c.String("name"),
				Sender: c.String("sender"),
				Text:   strings.Join(c.Args().Tail(), " "),
			})
			if err != nil {
				return fmt.Errorf("failed to ingest sms: %w", err)
			}

			if c.Bool("json") || len(filters) > 0 {
				if err := outputJSON(c.App.Writer, out); err != nil {
					return err
				}
			} else {
				printOutcome(c, out)
			}

			if !matchesAll(filters, out) {
				return fmt.Errorf("outcome did not match jq filters")
			}
			return nil
		},
	}
}

func trustScoreCommand() *cli.Command {
	return &cli.Command{
		Name:      "trust-score",
		Usage:     "Compute and print the trust score of a phone owner",
		ArgsUsage: "PHONE",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: phone number")
			}

			score, err := newAPIClient(c).TrustScore(c.Context, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get trust score: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, score)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Phone:   %s\n", score.Phone)
			fmt.Fprintf(w, "Score:   %d (%s)\n", score.Score, score.Rating)
			fmt.Fprintln(w, "Components:")
			for _, comp := range score.Components {
				fmt.Fprintf(w, "  %-18s %.2f x %.2f = %.3f\n", comp.Name, comp.Score, comp.Weight, comp.Weighted)
			}
			return nil
		},
	}
}

func clientTransactionsCommand() *cli.Command {
	return &cli.Command{
		Name:      "transactions",
		Aliases:   []string{"txns"},
		Usage:     "List ledger entries through the HTTP API",
		ArgsUsage: "PHONE",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of transactions (server default when 0)",
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of transactions to skip",
			},
			mustJQFlag(),
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: phone number")
			}
			filters, err := compileFilters(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}

			page, err := newAPIClient(c).ListTransactions(c.Context, c.Args().First(), c.Int("limit"), c.Int("offset"))
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}

			matched := make([]*client.Transaction, 0, len(page.Transactions))
			for _, txn := range page.Transactions {
				if matchesAll(filters, txn) {
					matched = append(matched, txn)
				}
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, matched)
			}

			w := c.App.Writer
			for _, txn := range matched {
				fmt.Fprintf(w, "%s  %-7s %12s %s  %s  %s\n",
					txn.CreatedAt.Format(time.RFC3339),
					txn.Direction,
					txn.Amount.StringFixed(2),
					txn.Currency,
					optional(txn.Reference),
					optional(txn.Counterparty),
				)
			}
			fmt.Fprintf(c.App.ErrWriter, "\nShowing %d of %d transactions\n", len(matched), page.Total)
			return nil
		},
	}
}

func printOutcome(c *cli.Context, out *client.Outcome) {
	w := c.App.Writer
	fmt.Fprintf(w, "Status:      %s\n", out.Status)
	fmt.Fprintf(w, "Phone:       %s\n", out.Phone)
	if out.Parsed.Amount != nil {
		fmt.Fprintf(w, "Amount:      %s %s (%s)\n", out.Parsed.Amount.StringFixed(2), out.Parsed.Currency, out.Parsed.Direction)
	}
	fmt.Fprintf(w, "Risk Level:  %s (%.2f)\n", out.Assessment.RiskLevel, out.Assessment.Score)
	if out.TransactionID != nil {
		fmt.Fprintf(w, "Transaction: %s\n", *out.TransactionID)
	}
	if out.AlertID != nil {
		fmt.Fprintf(w, "Alert:       %s\n", *out.AlertID)
	}
	if out.SuggestedSave != nil {
		fmt.Fprintf(w, "Save:        %s %s suggested\n", out.SuggestedSave.StringFixed(2), out.Parsed.Currency)
	}
}

// newAPIClient builds a client for --server-url that logs only errors.
func newAPIClient(c *cli.Context) *client.Client {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	return client.NewClient(c.String("server-url"), httpClient, logging.New("error", "json"))
}
