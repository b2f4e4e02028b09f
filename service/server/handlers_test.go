package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tajiricircle/tajiri/service/config"
	"github.com/tajiricircle/tajiri/service/fraud"
	"github.com/tajiricircle/tajiri/service/logging"
	"github.com/tajiricircle/tajiri/service/metrics"
	"github.com/tajiricircle/tajiri/service/pipeline"
	"github.com/tajiricircle/tajiri/service/sms"
	"github.com/tajiricircle/tajiri/service/temporal"
	"github.com/tajiricircle/tajiri/service/trust"
)

const (
	creditSMS = "QK12ABC345 Confirmed. You have received Ksh1,500.00 from JOHN DOE 0712345678 on 1/1/24."
	scamSMS   = "Congratulations! You have won KSh 100,000! Click here to claim your prize!"
	chatSMS   = "See you at the market tomorrow"
	testPhone = "+254712345678"
)

type testEnv struct {
	store     *fakeStore
	scheduler *temporal.MockScheduler
	workflows *MockWorkflowStarter
	handler   http.Handler
}

func newTestEnv(t *testing.T, m *metrics.Metrics) *testEnv {
	t.Helper()
	store := newFakeStore()
	p := pipeline.New(store,
		sms.NewParser(sms.DefaultConfig()),
		fraud.MustNewScorer(fraud.DefaultRuleSet()),
		trust.MustNewCalculator(trust.DefaultWeights()),
		logging.Discard(),
	)
	env := &testEnv{
		store:     store,
		scheduler: temporal.NewMockScheduler(),
		workflows: new(MockWorkflowStarter),
	}
	cfg := &config.Config{CORSAllowedOrigins: []string{"*"}}
	srv := New(":0", cfg, store, p, env.workflows, env.scheduler, nil, m, logging.Discard())
	env.handler = srv.Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

func smsBody(phone, sender, text string) string {
	b, _ := json.Marshal(map[string]string{"phone": phone, "sender": sender, "text": text})
	return string(b)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestParseSMS(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, "POST", "/api/v1/sms/parse", `{"text":"`+creditSMS+`","sender":"MPESA"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	parsed := body["parsed"].(map[string]interface{})
	assert.Equal(t, "1500", parsed["amount"])
	assert.Equal(t, "credit", parsed["direction"])
	assessment := body["assessment"].(map[string]interface{})
	assert.Equal(t, "safe", assessment["risk_level"])

	assert.Empty(t, env.store.txns, "parsing never persists")
}

func TestAnalyzeFraud(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, "POST", "/api/v1/fraud/analyze", `{"text":"`+scamSMS+`"}`)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "scam", body["risk_level"])
	assert.Equal(t, true, body["flagged"])
	assert.NotEmpty(t, body["matched_rules"])
}

func TestRequestValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantError  string
	}{
		{
			name:       "extremely large request body",
			path:       "/api/v1/sms",
			body:       `{"phone":"0712345678","text":"` + strings.Repeat("A", 2*maxRequestBodySize) + `"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "request body too large",
		},
		{
			name:       "malformed JSON",
			path:       "/api/v1/sms",
			body:       `{"phone":"0712345678","text":`,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid request body",
		},
		{
			name:       "empty JSON object",
			path:       "/api/v1/sms",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "phone is required; text is required",
		},
		{
			name:       "non-Kenyan phone",
			path:       "/api/v1/sms",
			body:       smsBody("+15551234567", "", creditSMS),
			wantStatus: http.StatusBadRequest,
			wantError:  "phone must be a Kenyan mobile number",
		},
		{
			name:       "landline",
			path:       "/api/v1/sms",
			body:       smsBody("0201234567", "", creditSMS),
			wantStatus: http.StatusBadRequest,
			wantError:  "phone must be a Kenyan mobile number",
		},
		{
			name:       "text too long",
			path:       "/api/v1/sms/parse",
			body:       `{"text":"` + strings.Repeat("x", 2001) + `"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "text must be at most 2000 characters long",
		},
		{
			name:       "missing text on parse",
			path:       "/api/v1/sms/parse",
			body:       `{"sender":"MPESA"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "text is required",
		},
		{
			name:       "non-positive contribution",
			path:       "/api/v1/savings/contribute",
			body:       `{"phone":"0712345678","amount":"0"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "amount must be greater than 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantError)
		})
	}
}

func TestIngestSMS(t *testing.T) {
	env := newTestEnv(t, nil)

	t.Run("recorded", func(t *testing.T) {
		w := env.do(t, "POST", "/api/v1/sms", smsBody("0712345678", "MPESA", creditSMS))
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		body := decodeBody(t, w)
		assert.Equal(t, "recorded", body["status"])
		assert.Equal(t, testPhone, body["phone"])
		assert.Equal(t, "150", body["suggested_save"])
		assert.NotEmpty(t, body["transaction_id"])
		require.Len(t, env.store.txns, 1)
	})

	t.Run("same reference is a duplicate", func(t *testing.T) {
		w := env.do(t, "POST", "/api/v1/sms", smsBody("0712345678", "MPESA", creditSMS))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "duplicate", decodeBody(t, w)["status"])
		assert.Len(t, env.store.txns, 1)
	})

	t.Run("scam is blocked", func(t *testing.T) {
		w := env.do(t, "POST", "/api/v1/sms", smsBody("0712345678", "0722000000", scamSMS))
		require.Equal(t, http.StatusOK, w.Code)

		body := decodeBody(t, w)
		assert.Equal(t, "blocked", body["status"])
		assert.NotEmpty(t, body["alert_id"])
		assert.Nil(t, body["transaction_id"])
		assert.Len(t, env.store.txns, 1)
		assert.Len(t, env.store.alerts, 1)
	})

	t.Run("not a transaction", func(t *testing.T) {
		w := env.do(t, "POST", "/api/v1/sms", smsBody("0712345678", "", chatSMS))
		require.Equal(t, http.StatusBadRequest, w.Code)

		body := decodeBody(t, w)
		assert.Equal(t, "not_transaction", body["status"])
		assert.Equal(t, "message is not a transaction", body["error"])
	})
}

func TestListTransactions(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusCreated, env.do(t, "POST", "/api/v1/sms", smsBody("0712345678", "MPESA", creditSMS)).Code)

	t.Run("lists the ledger", func(t *testing.T) {
		w := env.do(t, "GET", "/api/v1/users/0712345678/transactions", "")
		require.Equal(t, http.StatusOK, w.Code)

		body := decodeBody(t, w)
		assert.Equal(t, testPhone, body["phone"])
		assert.Equal(t, float64(1), body["count"])
		assert.Equal(t, float64(1), body["total"])
		assert.Equal(t, float64(defaultPageLimit), body["limit"])

		txns := body["transactions"].([]interface{})
		require.Len(t, txns, 1)
		txn := txns[0].(map[string]interface{})
		assert.Equal(t, "1500", txn["amount"])
		assert.Equal(t, "QK12ABC345", txn["reference"])
	})

	t.Run("offset past the end", func(t *testing.T) {
		w := env.do(t, "GET", "/api/v1/users/0712345678/transactions?offset=10", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(0), decodeBody(t, w)["count"])
	})

	pagination := []struct {
		query     string
		wantError string
	}{
		{"limit=abc", "invalid limit parameter"},
		{"limit=0", "limit must be at least 1"},
		{"limit=1001", "limit cannot exceed 1000"},
		{"offset=-1", "offset cannot be negative"},
		{"offset=x", "invalid offset parameter"},
	}
	for _, tt := range pagination {
		t.Run(tt.query, func(t *testing.T) {
			w := env.do(t, "GET", "/api/v1/users/0712345678/transactions?"+tt.query, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantError)
		})
	}

	t.Run("unknown user", func(t *testing.T) {
		w := env.do(t, "GET", "/api/v1/users/0799999999/transactions", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "user not found")
	})

	t.Run("invalid phone", func(t *testing.T) {
		w := env.do(t, "GET", "/api/v1/users/12345/transactions", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAlerts(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusOK, env.do(t, "POST", "/api/v1/sms", smsBody("0712345678", "0722000000", scamSMS)).Code)

	w := env.do(t, "GET", "/api/v1/users/0712345678/alerts", "")
	require.Equal(t, http.StatusOK, w.Code)
	alerts := decodeBody(t, w)["alerts"].([]interface{})
	require.Len(t, alerts, 1)
	alert := alerts[0].(map[string]interface{})
	assert.Equal(t, "scam", alert["risk_level"])
	assert.Equal(t, "pending", alert["status"])
	id := alert["id"].(string)

	t.Run("since filters older alerts", func(t *testing.T) {
		w := env.do(t, "GET", "/api/v1/users/0712345678/alerts?since=2999-01-01T00:00:00Z", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(0), decodeBody(t, w)["count"])
	})

	t.Run("invalid since", func(t *testing.T) {
		w := env.do(t, "GET", "/api/v1/users/0712345678/alerts?since=yesterday", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("review an alert", func(t *testing.T) {
		w := env.do(t, "POST", "/api/v1/alerts/"+id+"/status", `{"status":"reviewed","user_action":"avoided"}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		body := decodeBody(t, w)
		assert.Equal(t, "reviewed", body["status"])
		assert.Equal(t, "avoided", body["user_action"])
		assert.NotEmpty(t, body["reviewed_at"])
	})

	t.Run("invalid status", func(t *testing.T) {
		w := env.do(t, "POST", "/api/v1/alerts/"+id+"/status", `{"status":"ignored"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "invalid alert status")
	})

	t.Run("invalid user action", func(t *testing.T) {
		w := env.do(t, "POST", "/api/v1/alerts/"+id+"/status", `{"status":"reviewed","user_action":"shrugged"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown alert", func(t *testing.T) {
		w := env.do(t, "POST", "/api/v1/alerts/6f1c1d4e-7c1a-4b9e-9a43-0d9b1b4f2a11/status", `{"status":"reviewed"}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "alert not found")
	})

	t.Run("malformed id", func(t *testing.T) {
		w := env.do(t, "POST", "/api/v1/alerts/not-a-uuid/status", `{"status":"reviewed"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestFraudReports(t *testing.T) {
	env := newTestEnv(t, nil)

	t.Run("unknown user", func(t *testing.T) {
		w := env.do(t, "POST", "/api/v1/fraud/reports", `{"phone":"0712345678","report_type":"sms","details":"fake prize"}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "user not found")
	})

	env.store.addUser(testPhone)

	t.Run("create", func(t *testing.T) {
		w := env.do(t, "POST", "/api/v1/fraud/reports",
			`{"phone":"0712345678","report_type":"call","details":"  Asked for my PIN ","reported_number":"0700111222"}`)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		body := decodeBody(t, w)
		assert.Equal(t, "call", body["report_type"])
		assert.Equal(t, "Asked for my PIN", body["details"])
		assert.Equal(t, "0700111222", body["reported_number"])
		assert.Equal(t, "pending", body["status"])
		assert.NotContains(t, body, "reported_url")
	})

	t.Run("invalid report type", func(t *testing.T) {
		w := env.do(t, "POST", "/api/v1/fraud/reports", `{"phone":"0712345678","report_type":"fax","details":"x"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "invalid report type")
	})

	t.Run("invalid url", func(t *testing.T) {
		w := env.do(t, "POST", "/api/v1/fraud/reports", `{"phone":"0712345678","report_type":"website","details":"x","reported_url":"not a url"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "reported_url must be a valid URL")
	})

	t.Run("missing details", func(t *testing.T) {
		w := env.do(t, "POST", "/api/v1/fraud/reports", `{"phone":"0712345678","report_type":"sms"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "details is required")
	})

	t.Run("list", func(t *testing.T) {
		w := env.do(t, "POST", "/api/v1/fraud/reports",
			`{"phone":"+254712345678","report_type":"website","details":"Fake loan site","reported_url":"https://bit.ly/x"}`)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		w = env.do(t, "GET", "/api/v1/users/0712345678/fraud/reports", "")
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, float64(2), body["count"])
		reports := body["reports"].([]interface{})
		assert.Equal(t, "website", reports[0].(map[string]interface{})["report_type"])

		w = env.do(t, "GET", "/api/v1/users/0799999999/fraud/reports", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestTrustScore(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, "GET", "/api/v1/users/0712345678/trust-score", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	env.store.addUser(testPhone)
	w = env.do(t, "GET", "/api/v1/users/0712345678/trust-score", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	assert.Equal(t, testPhone, body["phone"])
	score := body["score"].(float64)
	assert.GreaterOrEqual(t, score, float64(trust.MinScore))
	assert.LessOrEqual(t, score, float64(trust.MaxScore))
	assert.NotEmpty(t, body["rating"])
	assert.Len(t, body["components"], 6)
	assert.Len(t, env.store.snapshots, 1)
}

func TestSavings(t *testing.T) {
	env := newTestEnv(t, nil)

	t.Run("unknown user", func(t *testing.T) {
		w := env.do(t, "POST", "/api/v1/savings/contribute", `{"phone":"0712345678","amount":"100"}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	env.store.addUser(testPhone)

	t.Run("first contribution creates the default goal", func(t *testing.T) {
		w := env.do(t, "POST", "/api/v1/savings/contribute", `{"phone":"0712345678","amount":"1000"}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		body := decodeBody(t, w)
		goal := body["goal"].(map[string]interface{})
		assert.Equal(t, "General Savings", goal["name"])
		assert.Equal(t, "1000", goal["current_amount"])
		assert.Equal(t, float64(20), goal["progress"])
		assert.Equal(t, false, body["just_achieved"])
	})

	t.Run("reaching the target", func(t *testing.T) {
		w := env.do(t, "POST", "/api/v1/savings/contribute", `{"phone":"0712345678","amount":4000}`)
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, true, body["just_achieved"])
		assert.Equal(t, float64(100), body["goal"].(map[string]interface{})["progress"])
	})

	t.Run("create and list goals", func(t *testing.T) {
		w := env.do(t, "POST", "/api/v1/savings/goals", `{"phone":"0712345678","name":"School fees","target_amount":"20000"}`)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		assert.Equal(t, "School fees", decodeBody(t, w)["name"])

		w = env.do(t, "GET", "/api/v1/users/0712345678/savings/goals", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, decodeBody(t, w)["goals"], 2)
	})

	t.Run("goal target must be positive", func(t *testing.T) {
		w := env.do(t, "POST", "/api/v1/savings/goals", `{"phone":"0712345678","name":"Nothing","target_amount":"-5"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "target_amount must be greater than 0")
	})

	t.Run("unknown goal", func(t *testing.T) {
		w := env.do(t, "POST", "/api/v1/savings/contribute", `{"phone":"0712345678","amount":"10","goal_id":"6f1c1d4e-7c1a-4b9e-9a43-0d9b1b4f2a11"}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "goal not found")
	})
}

func TestChamas(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.addUser(testPhone)
	env.store.addUser("+254722000111")
	env.store.addUser("+254733000222")

	w := env.do(t, "POST", "/api/v1/chamas", `{"phone":"0712345678","name":"Mama Mboga Group","monthly_target":"10000"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	chama := decodeBody(t, w)
	id := chama["id"].(string)
	members := chama["members"].([]interface{})
	require.Len(t, members, 1)
	assert.Equal(t, true, members[0].(map[string]interface{})["is_admin"])

	t.Run("join", func(t *testing.T) {
		w := env.do(t, "POST", "/api/v1/chamas/"+id+"/members", `{"phone":"0722000111"}`)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		assert.Equal(t, "+254722000111", decodeBody(t, w)["phone"])
	})

	t.Run("joining twice conflicts", func(t *testing.T) {
		w := env.do(t, "POST", "/api/v1/chamas/"+id+"/members", `{"phone":"0722000111"}`)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("member contribution", func(t *testing.T) {
		w := env.do(t, "POST", "/api/v1/chamas/"+id+"/contributions", `{"phone":"0722000111","amount":"2500"}`)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		w = env.do(t, "GET", "/api/v1/chamas/"+id, "")
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "2500", body["total_contributions"])
		assert.Len(t, body["members"], 2)
	})

	t.Run("non-member contribution", func(t *testing.T) {
		w := env.do(t, "POST", "/api/v1/chamas/"+id+"/contributions", `{"phone":"0733000222","amount":"100"}`)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("unknown chama", func(t *testing.T) {
		w := env.do(t, "GET", "/api/v1/chamas/6f1c1d4e-7c1a-4b9e-9a43-0d9b1b4f2a11", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "chama not found")

		w = env.do(t, "POST", "/api/v1/chamas/6f1c1d4e-7c1a-4b9e-9a43-0d9b1b4f2a11/members", `{"phone":"0733000222"}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestCORS(t *testing.T) {
	t.Run("wildcard", func(t *testing.T) {
		env := newTestEnv(t, nil)
		w := env.do(t, "OPTIONS", "/api/v1/sms", "")
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
	})

	t.Run("allow list", func(t *testing.T) {
		h := corsMiddleware([]string{"https://app.tajiri.example"}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest("GET", "/health", nil)
		req.Header.Set("Origin", "https://app.tajiri.example")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, "https://app.tajiri.example", w.Header().Get("Access-Control-Allow-Origin"))

		req = httptest.NewRequest("GET", "/health", nil)
		req.Header.Set("Origin", "https://evil.example")
		w = httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestMetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	env := newTestEnv(t, metrics.NewMetrics(reg))

	env.do(t, "POST", "/api/v1/sms/parse", `{"text":"hello"}`)
	env.do(t, "POST", "/api/v1/sms/parse", `{}`)

	count, err := testutil.GatherAndCount(reg, "http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one series per status code")
}

func TestWriteEvent(t *testing.T) {
	var b strings.Builder
	writeEvent(&b, "alert", []byte(`{"id":"1"}`))
	assert.Equal(t, "event: alert\ndata: {\"id\":\"1\"}\n\n", b.String())
}
