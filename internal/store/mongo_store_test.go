package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/bson"
)

func setupMongo(t *testing.T) *MongoStore {
	if testing.Short() {
		t.Skip("mongo container test skipped in short mode")
	}
	ctx := context.Background()

	mongoContainer, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := mongoContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := ConnectMongoDB(ctx, uri, "testdb")
	require.NoError(t, err)

	s := NewMongoStore(db)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.CreateIndexes(ctx, 24*time.Hour))
	return s
}

func TestMongoStore_GetSet(t *testing.T) {
	exerciseKVStore(t, setupMongo(t))
}

func TestMongoStore_SetStampsUpdatedAt(t *testing.T) {
	s := setupMongo(t)
	ctx := context.Background()

	before := time.Now().UTC().Add(-time.Second)
	require.NoError(t, s.Set(ctx, "cart:x", "[]"))

	var doc stateDocument
	require.NoError(t, s.collection.FindOne(ctx, bson.M{"_id": "cart:x"}).Decode(&doc))
	assert.Equal(t, "[]", doc.Value)
	assert.True(t, doc.UpdatedAt.After(before))
}
