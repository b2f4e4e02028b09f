package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tajiricircle/tajiri/service/db"
)

func setupTestDB(t *testing.T) *db.TestStore {
	t.Helper()
	db.SkipIfNoTestDB(t)

	store := db.NewTestStore(t)
	t.Cleanup(store.Close)
	store.Cleanup(t)
	return store
}

func TestDBCommands(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	name := "Jane Wanjiru"
	user, err := store.GetOrCreateUser(ctx, "+254712345678", &name)
	require.NoError(t, err)

	ref := "QK12ABC345"
	_, err = store.CreateTransaction(ctx, db.CreateTransactionParams{
		UserID:    user.ID,
		Amount:    decimal.NewFromInt(1500),
		Currency:  "KES",
		Direction: "credit",
		Reference: &ref,
		Source:    "M-PESA",
		Category:  "general",
		RawText:   "QK12ABC345 Confirmed. You have received Ksh1,500.00",
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	_, err = store.CreateFraudAlert(ctx, db.CreateFraudAlertParams{
		UserID:       user.ID,
		Sender:       "0722000000",
		Message:      "You have won!",
		Score:        0.9,
		RiskLevel:    "scam",
		MatchedRules: []string{"prize"},
		CreatedAt:    time.Now(),
	})
	require.NoError(t, err)

	dbURL := db.TestDatabaseURL()

	t.Run("migrate is idempotent", func(t *testing.T) {
		out, err := runApp(t, "--database-url", dbURL, "db", "migrate")
		require.NoError(t, err)
		assert.Contains(t, out, "schema applied")
	})

	t.Run("users", func(t *testing.T) {
		out, err := runApp(t, "--database-url", dbURL, "db", "users")
		require.NoError(t, err)
		assert.Contains(t, out, "+254712345678")
		assert.Contains(t, out, "Jane Wanjiru")
	})

	t.Run("transactions", func(t *testing.T) {
		out, err := runApp(t, "--database-url", dbURL, "db", "transactions", "0712345678")
		require.NoError(t, err)
		assert.Contains(t, out, "QK12ABC345")
		assert.Contains(t, out, "1500.00 KES")
	})

	t.Run("transactions as json", func(t *testing.T) {
		out, err := runApp(t, "--database-url", dbURL, "--json", "db", "txns", "0712345678")
		require.NoError(t, err)

		var txns []map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(out), &txns))
		assert.Len(t, txns, 1)
	})

	t.Run("alerts", func(t *testing.T) {
		out, err := runApp(t, "--database-url", dbURL, "db", "alerts", "0712345678")
		require.NoError(t, err)
		assert.Contains(t, out, "scam")
		assert.Contains(t, out, "prize")
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := runApp(t, "--database-url", dbURL, "db", "transactions", "0799999999")
		require.Error(t, err)
		assert.ErrorIs(t, err, db.ErrNotFound)
	})
}

func TestDBCommands_MissingURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := runApp(t, "db", "users")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database-url is required")
}
