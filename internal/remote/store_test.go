package remote_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealguard/internal/config"
	"dealguard/internal/db"
	"dealguard/internal/engine"
	"dealguard/internal/migrate"
	"dealguard/internal/query"
	"dealguard/internal/remote"
	"dealguard/internal/server"
	"dealguard/internal/validation"
	dealguardsdk "dealguard/sdk/go"
)

func newBackend(t *testing.T) (engine.Engine, *dealguardsdk.Client) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn, db.SQLite))
	e, err := engine.New(conn, db.SQLite, config.Default(), engine.Options{})
	require.NoError(t, err)
	handler, err := server.New(server.Config{
		Engine: e,
		Auth:   server.AuthConfig{AllowLegacyActorHeader: true},
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := dealguardsdk.New(srv.URL)
	client.ActorID = "remote-tester"
	return e, client
}

func TestRemoteStoreDrivesValidation(t *testing.T) {
	backend, client := newBackend(t)
	ctx := context.Background()
	acct, err := backend.CreateAccount(ctx, "", "Contoso", "seed")
	require.NoError(t, err)
	o, err := backend.CreateOpportunity(ctx, engine.OpportunityCreateOptions{Name: "Deal", AccountID: acct.ID, ActorID: "seed"})
	require.NoError(t, err)

	svc, err := validation.FromConfig(config.Default().Rules, remote.New(client))
	require.NoError(t, err)

	res, err := svc.Validate(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	_, err = backend.CreateContract(ctx, engine.ContractCreateOptions{Name: "C", AccountID: acct.ID, State: "active", ActorID: "seed"})
	require.NoError(t, err)
	res, err = svc.Validate(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, validation.BlockedByRelatedActiveRecord, res.Class)
}

func TestRemoteStoreReturnsAttributes(t *testing.T) {
	backend, client := newBackend(t)
	ctx := context.Background()
	o, err := backend.CreateOpportunity(ctx, engine.OpportunityCreateOptions{Name: "Deal", Status: "won", ActorID: "seed"})
	require.NoError(t, err)

	items, err := remote.New(client).Query(ctx, query.Where("opportunity", "id", o.ID).Select("status"))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, o.ID, items[0].ID)
	assert.Equal(t, "won", items[0].String("status"))
}

func TestRemoteStoreRejectsUnfiltered(t *testing.T) {
	_, err := remote.New(dealguardsdk.New("http://127.0.0.1:1")).Query(context.Background(), query.Expression{Entity: "quote"})
	assert.ErrorIs(t, err, query.ErrUnfiltered)
}

func TestRemoteStoreUnavailableIsInfrastructureError(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	svc, err := validation.FromConfig(config.Default().Rules, remote.New(dealguardsdk.New(url)))
	require.NoError(t, err)
	_, err = svc.Validate(context.Background(), "8f2b1f7e-3b7a-4d43-9b0a-3c1a8d1b2c44")
	var infra *validation.InfrastructureError
	require.ErrorAs(t, err, &infra)
	assert.Equal(t, config.RuleQuoteDependency, infra.Rule)
}
