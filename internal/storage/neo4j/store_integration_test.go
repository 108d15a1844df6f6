//go:build integration

package neo4j

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	tcneo4j "github.com/testcontainers/testcontainers-go/modules/neo4j"

	"github.com/sheikh-saqib/account-ledger/internal/storage/storagetest"
)

const testPassword = "ledger-integration"

// setupNeo4jContainer starts a disposable Neo4j container and returns its
// bolt URL.
func setupNeo4jContainer(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcneo4j.Run(ctx,
		"neo4j:5",
		tcneo4j.WithAdminPassword(testPassword),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(context.Background())) })

	uri, err := container.BoltUrl(ctx)
	require.NoError(t, err)
	return uri
}

func TestIntegration_Neo4jStore(t *testing.T) {
	ctx := context.Background()

	cfg := DefaultConfig()
	cfg.URI = setupNeo4jContainer(t)
	cfg.Password = testPassword

	store, err := Open(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close(context.Background())) })

	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.EnsureSchema(ctx), "schema bootstrap is idempotent")
	require.NoError(t, store.Ping(ctx))

	storagetest.Run(t, store)
}
