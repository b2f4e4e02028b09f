package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAPIServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/sms", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "0712345678", body["phone"])
		assert.Equal(t, "MPESA", body["sender"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"status":"recorded","phone":"+254712345678","transaction_id":"t1","suggested_save":"150",
			"parsed":{"amount":"1500","currency":"KES","direction":"credit"},
			"assessment":{"score":0,"risk_level":"safe","matched_rules":[]}}`))
	})
	mux.HandleFunc("GET /api/v1/users/{phone}/trust-score", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"phone":"+254712345678","score":642,"rating":"fair",
			"components":[{"name":"savings","score":0.5,"weight":0.2,"weighted":0.1}]}`))
	})
	mux.HandleFunc("GET /api/v1/users/{phone}/transactions", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"phone":"+254712345678","count":2,"total":2,"limit":50,"offset":0,"transactions":[
			{"id":"t1","amount":"1500","currency":"KES","direction":"credit","reference":"QK12ABC345","created_at":"2024-01-01T10:00:00Z"},
			{"id":"t2","amount":"200","currency":"KES","direction":"debit","reference":"QK12ABC346","created_at":"2024-01-02T10:00:00Z"}]}`))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestIngestCommand(t *testing.T) {
	server := newAPIServer(t)
	text := "QK12ABC345 Confirmed. You have received Ksh1,500.00 from JOHN DOE"

	t.Run("human output", func(t *testing.T) {
		out, err := runApp(t, "--server-url", server.URL, "client", "ingest", "--sender", "MPESA", "0712345678", text)
		require.NoError(t, err)
		assert.Contains(t, out, "recorded")
		assert.Contains(t, out, "150.00 KES suggested")
	})

	t.Run("must-jq match", func(t *testing.T) {
		out, err := runApp(t, "--server-url", server.URL, "client", "ingest",
			"--sender", "MPESA", "--must-jq", `.status == "recorded"`, "0712345678", text)
		require.NoError(t, err)
		assert.Contains(t, out, `"transaction_id": "t1"`)
	})

	t.Run("must-jq mismatch", func(t *testing.T) {
		_, err := runApp(t, "--server-url", server.URL, "client", "ingest",
			"--sender", "MPESA", "--must-jq", `.status == "blocked"`, "0712345678", text)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "did not match")
	})

	t.Run("missing arguments", func(t *testing.T) {
		_, err := runApp(t, "--server-url", server.URL, "client", "ingest", "0712345678")
		require.Error(t, err)
	})
}

func TestTrustScoreCommand(t *testing.T) {
	server := newAPIServer(t)

	out, err := runApp(t, "--server-url", server.URL, "client", "trust-score", "0712345678")
	require.NoError(t, err)
	assert.Contains(t, out, "642 (fair)")
	assert.Contains(t, out, "savings")
}

func TestClientTransactionsCommand(t *testing.T) {
	server := newAPIServer(t)

	out, err := runApp(t, "--server-url", server.URL, "--json", "client", "transactions",
		"--must-jq", `.direction == "debit"`, "0712345678")
	require.NoError(t, err)

	var txns []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &txns))
	require.Len(t, txns, 1)
	assert.Equal(t, "t2", txns[0]["id"])
}
