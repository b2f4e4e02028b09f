package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSMSCommand(t *testing.T) {
	t.Run("json output", func(t *testing.T) {
		out, err := runApp(t, "--json", "sms", "parse",
			"Congratulations! You have won KSh 100,000! Click here to claim your prize!")
		require.NoError(t, err)

		var analysis map[string]map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(out), &analysis))
		assert.Equal(t, "scam", analysis["assessment"]["risk_level"])
		assert.Equal(t, true, analysis["assessment"]["flagged"])
		assert.Equal(t, "100000", analysis["parsed"]["amount"])
	})

	t.Run("human output", func(t *testing.T) {
		out, err := runApp(t, "sms", "parse", "--sender", "MPESA",
			"QK12ABC345 Confirmed. You have received Ksh1,500.00 from JOHN DOE 0712345678 on 1/1/24.")
		require.NoError(t, err)
		assert.Contains(t, out, "credit")
		assert.Contains(t, out, "QK12ABC345")
		assert.Contains(t, out, "safe")
	})

	t.Run("not a transaction", func(t *testing.T) {
		out, err := runApp(t, "sms", "parse", "see you at 5")
		require.NoError(t, err)
		assert.Contains(t, out, "not a transaction")
	})

	t.Run("missing text", func(t *testing.T) {
		_, err := runApp(t, "sms", "parse")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sms text is required")
	})

	t.Run("bad rules file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

		_, err := runApp(t, "sms", "parse", "--rules", path, "hello")
		require.Error(t, err)
	})
}
