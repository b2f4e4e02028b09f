package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tajiricircle/tajiri/service/db"
	"github.com/tajiricircle/tajiri/service/pipeline"
	"github.com/urfave/cli/v2"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply the database schema",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			if err := store.Migrate(c.Context); err != nil {
				return fmt.Errorf("failed to apply schema: %w", err)
			}
			fmt.Fprintln(c.App.Writer, "schema applied")
			return nil
		},
	}
}

func listUsersCommand() *cli.Command {
	return &cli.Command{
		Name:  "users",
		Usage: "List registered users",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of users",
				Value:   50,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of users to skip",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			users, err := store.ListUsers(c.Context, int32(c.Int("limit")), int32(c.Int("offset")))
			if err != nil {
				return fmt.Errorf("failed to list users: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, users)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PHONE\tNAME\tVERIFIED\tCREATED")
			for _, u := range users {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					u.Phone,
					optional(u.Name),
					verifiedFlags(u),
					u.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d users\n", len(users))
			return nil
		},
	}
}

func listTransactionsCommand() *cli.Command {
	return &cli.Command{
		Name:      "transactions",
		Usage:     "List ledger entries for a phone number",
		Aliases:   []string{"txns"},
		ArgsUsage: "PHONE",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of transactions",
				Value:   50,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of transactions to skip",
			},
		},
		Action: func(c *cli.Context) error {
			store, user, closer, err := storeAndUser(c)
			if err != nil {
				return err
			}
			defer closer()

			txns, err := store.ListTransactionsByUser(c.Context, db.ListTransactionsByUserParams{
				UserID: user.ID,
				Limit:  int32(c.Int("limit")),
				Offset: int32(c.Int("offset")),
			})
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, txns)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "REFERENCE\tDIRECTION\tAMOUNT\tCOUNTERPARTY\tCATEGORY\tCREATED")
			for _, t := range txns {
				fmt.Fprintf(w, "%s\t%s\t%s %s\t%s\t%s\t%s\n",
					optional(t.Reference),
					t.Direction,
					t.Amount.StringFixed(2),
					t.Currency,
					optional(t.Counterparty),
					t.Category,
					t.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d transactions\n", len(txns))
			return nil
		},
	}
}

func listAlertsCommand() *cli.Command {
	return &cli.Command{
		Name:      "alerts",
		Usage:     "List fraud alerts for a phone number",
		ArgsUsage: "PHONE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "since",
				Usage: "Show alerts since this time (RFC3339 format)",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of alerts",
				Value:   50,
			},
		},
		Action: func(c *cli.Context) error {
			params := db.ListFraudAlertsParams{Limit: int32(c.Int("limit"))}
			if s := c.String("since"); s != "" {
				since, err := time.Parse(time.RFC3339, s)
				if err != nil {
					return fmt.Errorf("invalid time format (use RFC3339): %w", err)
				}
				params.Since = &since
			}

			store, user, closer, err := storeAndUser(c)
			if err != nil {
				return err
			}
			defer closer()

			params.UserID = user.ID
			alerts, err := store.ListFraudAlertsByUser(c.Context, params)
			if err != nil {
				return fmt.Errorf("failed to list alerts: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, alerts)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tRISK\tSCORE\tSTATUS\tSENDER\tRULES\tCREATED")
			for _, a := range alerts {
				fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\t%s\t%s\t%s\n",
					a.ID,
					a.RiskLevel,
					a.Score,
					a.Status,
					a.Sender,
					strings.Join(a.MatchedRules, ","),
					a.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d alerts\n", len(alerts))
			return nil
		},
	}
}

func verifiedFlags(u *db.User) string {
	var flags []string
	if u.PhoneVerified {
		flags = append(flags, "phone")
	}
	if u.EmailVerified {
		flags = append(flags, "email")
	}
	if u.IDVerified {
		flags = append(flags, "id")
	}
	if u.BusinessVerified {
		flags = append(flags, "business")
	}
	if len(flags) == 0 {
		return "-"
	}
	return strings.Join(flags, ",")
}

// storeAndUser connects to the database and resolves the PHONE argument.
func storeAndUser(c *cli.Context) (*db.Store, *db.User, func(), error) {
	if c.NArg() != 1 {
		return nil, nil, nil, fmt.Errorf("requires exactly one argument: phone number")
	}
	phone, err := pipeline.NormalizePhone(c.Args().First())
	if err != nil {
		return nil, nil, nil, err
	}

	store, closer, err := getStore(c)
	if err != nil {
		return nil, nil, nil, err
	}

	user, err := store.GetUserByPhone(c.Context, phone)
	if err != nil {
		closer()
		return nil, nil, nil, fmt.Errorf("failed to get user %s: %w", phone, err)
	}
	return store, user, closer, nil
}

func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db.NewStore(pool, nil), pool.Close, nil
}
