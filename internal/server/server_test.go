package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"dealguard/internal/config"
	"dealguard/internal/db"
	"dealguard/internal/domain"
	"dealguard/internal/engine"
	"dealguard/internal/metrics"
	"dealguard/internal/migrate"
	"dealguard/internal/repo"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
}

var actorHeader = map[string]string{"X-Actor-Id": "tester"}

func newTestServer(t *testing.T, mutate func(*Config)) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn, db.SQLite))
	e, err := engine.New(conn, db.SQLite, config.Default(), engine.Options{})
	require.NoError(t, err)
	cfg := Config{
		Engine:   e,
		BasePath: "/v0",
		Logger:   zaptest.NewLogger(t),
		Auth:     AuthConfig{JWTSecret: "test-secret", AllowLegacyActorHeader: true},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	handler, err := New(cfg)
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.CloseClientConnections()
		srv.Close()
	})
	return &testServer{URL: srv.URL, Engine: e, client: srv.Client()}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env.Error
}

func (s *testServer) createOpportunity(t *testing.T, body map[string]any) domain.Opportunity {
	t.Helper()
	res, data := doJSON(t, s.client, http.MethodPost, s.URL+"/v0/opportunities", body, actorHeader)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var o domain.Opportunity
	require.NoError(t, json.Unmarshal(data, &o))
	return o
}

func (s *testServer) createAccount(t *testing.T) domain.Account {
	t.Helper()
	res, data := doJSON(t, s.client, http.MethodPost, s.URL+"/v0/accounts", map[string]any{"name": "Contoso"}, actorHeader)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var a domain.Account
	require.NoError(t, json.Unmarshal(data, &a))
	return a
}

func TestDeleteBlockedByQuoteReturnsConflict(t *testing.T) {
	srv := newTestServer(t, nil)
	o := srv.createOpportunity(t, map[string]any{"name": "Deal"})
	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/quotes", map[string]any{
		"name": "Q-1", "opportunity_id": o.ID,
	}, actorHeader)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))

	res, data = doJSON(t, srv.client, http.MethodDelete, srv.URL+"/v0/opportunities/"+o.ID, nil, actorHeader)
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	body := decodeError(t, data)
	assert.Equal(t, "deletion_blocked", body.Code)
	assert.Equal(t, "HasDependentChildren", body.Details["reason_class"])
	assert.Contains(t, body.Message, "quote")

	res, _ = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/opportunities/"+o.ID, nil, actorHeader)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestDeleteBlockedByWonStatusReturnsConflict(t *testing.T) {
	srv := newTestServer(t, nil)
	o := srv.createOpportunity(t, map[string]any{"name": "Deal", "status": "won"})
	res, data := doJSON(t, srv.client, http.MethodDelete, srv.URL+"/v0/opportunities/"+o.ID, nil, actorHeader)
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Equal(t, "InvalidStateForDeletion", decodeError(t, data).Details["reason_class"])
}

func TestDeleteBlockedByActiveContractUntilExpired(t *testing.T) {
	srv := newTestServer(t, nil)
	a := srv.createAccount(t)
	o := srv.createOpportunity(t, map[string]any{"name": "Deal", "account_id": a.ID})
	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/contracts", map[string]any{
		"name": "C-1", "account_id": a.ID, "state": "active",
	}, actorHeader)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var c domain.Contract
	require.NoError(t, json.Unmarshal(data, &c))

	res, data = doJSON(t, srv.client, http.MethodDelete, srv.URL+"/v0/opportunities/"+o.ID, nil, actorHeader)
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Equal(t, "BlockedByRelatedActiveRecord", decodeError(t, data).Details["reason_class"])

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/contracts/"+c.ID+"/state", map[string]any{"state": "expired"}, actorHeader)
	require.Equal(t, http.StatusNoContent, res.StatusCode, string(data))

	res, data = doJSON(t, srv.client, http.MethodDelete, srv.URL+"/v0/opportunities/"+o.ID, nil, actorHeader)
	require.Equal(t, http.StatusNoContent, res.StatusCode, string(data))

	res, _ = doJSON(t, srv.client, http.MethodDelete, srv.URL+"/v0/opportunities/"+o.ID, nil, actorHeader)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestValidateEndpointIsDryRun(t *testing.T) {
	srv := newTestServer(t, nil)
	o := srv.createOpportunity(t, map[string]any{"name": "Deal", "status": "won"})
	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/opportunities/"+o.ID+"/validate", nil, actorHeader)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var out ValidationResponse
	require.NoError(t, json.Unmarshal(data, &out))
	assert.False(t, out.Allowed)
	assert.Equal(t, "won_status", out.Rule)
	assert.Equal(t, "InvalidStateForDeletion", out.ReasonClass)

	open := srv.createOpportunity(t, map[string]any{"name": "Open deal"})
	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/opportunities/"+open.ID+"/validate", nil, actorHeader)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var permitted ValidationResponse
	require.NoError(t, json.Unmarshal(data, &permitted))
	assert.True(t, permitted.Allowed)
	assert.Empty(t, permitted.Reason)
}

func TestRecordQuery(t *testing.T) {
	srv := newTestServer(t, nil)
	o := srv.createOpportunity(t, map[string]any{"name": "Deal"})
	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/records/query", map[string]any{
		"entity":     "opportunity",
		"columns":    []string{"status"},
		"conditions": []map[string]any{{"attribute": "id", "operator": "eq", "values": []any{o.ID}}},
	}, actorHeader)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var out QueryResponse
	require.NoError(t, json.Unmarshal(data, &out))
	require.Len(t, out.Items, 1)
	assert.Equal(t, "open", out.Items[0].Attributes["status"])

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/records/query", map[string]any{
		"entity":     "quote",
		"conditions": []map[string]any{},
	}, actorHeader)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	assert.Equal(t, "unfiltered_query", decodeError(t, data).Code)
}

func TestRulesListing(t *testing.T) {
	srv := newTestServer(t, nil)
	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/rules", nil, actorHeader)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var out RulesResponse
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "opportunity", out.Entity)
	assert.Equal(t, []string{"quote_dependency", "won_status", "active_contract"}, out.Rules)
}

func TestEventsRecordBlockedAttempt(t *testing.T) {
	srv := newTestServer(t, nil)
	o := srv.createOpportunity(t, map[string]any{"name": "Deal", "status": "won"})
	res, _ := doJSON(t, srv.client, http.MethodDelete, srv.URL+"/v0/opportunities/"+o.ID, nil, actorHeader)
	require.Equal(t, http.StatusConflict, res.StatusCode)

	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/events?entity_id="+o.ID+"&limit=1", nil, actorHeader)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var out paginatedEvents
	require.NoError(t, json.Unmarshal(data, &out))
	require.Len(t, out.Items, 1)
	assert.Equal(t, "opportunity.delete.blocked", out.Items[0].Type)
	assert.Equal(t, "InvalidStateForDeletion", out.Items[0].Payload["reason_class"])
	assert.NotEmpty(t, out.NextCursor)

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/events?entity_id="+o.ID+"&cursor="+out.NextCursor, nil, actorHeader)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var older paginatedEvents
	require.NoError(t, json.Unmarshal(data, &older))
	require.Len(t, older.Items, 1)
	assert.Equal(t, "opportunity.created", older.Items[0].Type)
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t, nil)
	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/opportunities", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode, string(data))
	assert.Equal(t, "unauthorized", decodeError(t, data).Code)

	res, _ = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, _ = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/opportunities", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestLegacyHeaderDisabled(t *testing.T) {
	srv := newTestServer(t, func(c *Config) { c.Auth.AllowLegacyActorHeader = false })
	res, _ := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/opportunities", nil, actorHeader)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestDevLoginAndBearerToken(t *testing.T) {
	srv := newTestServer(t, func(c *Config) {
		c.Auth.AllowLegacyActorHeader = false
		c.Auth.DevLogin = true
	})
	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"actor_id": "alice"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var login DevLoginResponse
	require.NoError(t, json.Unmarshal(data, &login))
	require.NotEmpty(t, login.Token)

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var me WhoAmIResponse
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, "alice", me.ActorID)
	assert.Equal(t, "jwt", me.Source)
}

func TestAPIKeyAuth(t *testing.T) {
	srv := newTestServer(t, func(c *Config) { c.Auth.AllowLegacyActorHeader = false })
	_, plain, err := srv.Engine.CreateAPIKey(context.Background(), "bot", "ci")
	require.NoError(t, err)
	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": plain})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var me WhoAmIResponse
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, "bot", me.ActorID)
	assert.Equal(t, "api_key", me.Source)
}

func TestInvalidCredentialsDoNotFallThrough(t *testing.T) {
	srv := newTestServer(t, nil)
	cases := map[string]map[string]string{
		"unknown api key":   {"X-Api-Key": "dg_unknown", "X-Actor-Id": "alice"},
		"basic auth":        {"Authorization": "Basic YWxpY2U6cHc=", "X-Actor-Id": "alice"},
		"empty bearer":      {"Authorization": "Bearer", "X-Actor-Id": "alice"},
		"foreign signature": {"Authorization": "Bearer " + mustToken(t, "other-secret", "alice"), "X-Actor-Id": "alice"},
	}
	for name, headers := range cases {
		t.Run(name, func(t *testing.T) {
			res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/me", nil, headers)
			require.Equal(t, http.StatusUnauthorized, res.StatusCode, string(data))
			assert.Equal(t, "invalid_credentials", decodeError(t, data).Code)
		})
	}
}

func mustToken(t *testing.T, secret, actor string) string {
	t.Helper()
	tok, err := MintToken(secret, actor, time.Minute)
	require.NoError(t, err)
	return tok
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := metrics.NewRecorder(reg)
	srv := newTestServer(t, func(c *Config) { c.Metrics = reg })
	rec.ObserveGuard("opportunity", "blocked", "InvalidStateForDeletion", time.Millisecond)

	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "dealguard_guard_decisions_total")
}

func TestOpenAPIDocumentsErrorEnvelope(t *testing.T) {
	srv := newTestServer(t, nil)
	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.True(t, strings.Contains(string(data), "delete-opportunity"))
	assert.Contains(t, string(data), "bearerAuth")
}

func TestWebhookDeliversNewEvents(t *testing.T) {
	received := make(chan webhookEvent, 8)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "s3cret", r.Header.Get("X-Dealguard-Secret"))
		var evt webhookEvent
		if err := json.NewDecoder(r.Body).Decode(&evt); err == nil {
			received <- evt
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	srv := newTestServer(t, nil)
	ctx := context.Background()
	_, err := srv.Engine.CreateAccount(ctx, "", "before", "tester")
	require.NoError(t, err)

	d := NewWebhookDispatcher(srv.Engine.Repo, []config.WebhookConfig{{
		URL:    hook.URL,
		Events: []string{"opportunity.*"},
		Secret: "s3cret",
	}}, zaptest.NewLogger(t))
	require.NotNil(t, d)
	d.DispatchAll(ctx)

	o := srv.createOpportunity(t, map[string]any{"name": "Deal", "status": "won"})
	res, _ := doJSON(t, srv.client, http.MethodDelete, srv.URL+"/v0/opportunities/"+o.ID, nil, actorHeader)
	require.Equal(t, http.StatusConflict, res.StatusCode)
	d.DispatchAll(ctx)

	var got []string
	for len(received) > 0 {
		evt := <-received
		got = append(got, evt.Type)
	}
	assert.Equal(t, []string{"opportunity.created", "opportunity.delete.blocked"}, got)
}

func TestWebhookRunStopsOnCancel(t *testing.T) {
	srv := newTestServer(t, nil)
	d := NewWebhookDispatcher(srv.Engine.Repo, []config.WebhookConfig{{URL: "http://127.0.0.1:1/unused"}}, nil)
	require.NotNil(t, d)
	d.Interval = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestWebhookDispatcherDisabled(t *testing.T) {
	off := false
	assert.Nil(t, NewWebhookDispatcher(repo.Repo{}, nil, nil))
	assert.Nil(t, NewWebhookDispatcher(repo.Repo{}, []config.WebhookConfig{{URL: "http://x", Enabled: &off}}, nil))
}

func TestEventFilter(t *testing.T) {
	f := newEventFilter([]string{"opportunity.*", "contract.state_changed"})
	assert.True(t, f.match("opportunity.delete.blocked"))
	assert.True(t, f.match("contract.state_changed"))
	assert.False(t, f.match("quote.created"))
	assert.True(t, newEventFilter(nil).match("anything"))
	assert.True(t, newEventFilter([]string{"*"}).match("anything"))
}
