package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestFactsRoundTripAndDedupe(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	inserted, err := db.InsertFact(ctx, &Fact{ID: "1", Subject: "applicant", Source: "a.txt", Content: "Phone: 555-1234", Embedding: []float32{0.5, -1}})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = db.InsertFact(ctx, &Fact{ID: "2", Subject: "applicant", Source: "a.txt", Content: "Phone: 555-1234"})
	require.NoError(t, err)
	assert.False(t, inserted, "identical fact must be ignored")

	inserted, err = db.InsertFact(ctx, &Fact{ID: "3", Subject: "applicant", Source: "b.txt", Content: "Phone: 555-1234"})
	require.NoError(t, err)
	assert.True(t, inserted, "same content from another source is kept")

	_, err = db.InsertFact(ctx, &Fact{ID: "4", Subject: "someone-else", Source: "a.txt", Content: "x"})
	require.NoError(t, err)

	facts, err := db.ListFacts(ctx, "applicant")
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, "1", facts[0].ID)
	assert.Equal(t, []float32{0.5, -1}, facts[0].Embedding)
	assert.Nil(t, facts[1].Embedding)
}

func TestFillFactEmbedding(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.InsertFact(ctx, &Fact{ID: "1", Subject: "applicant", Source: "a.txt", Content: "Phone: 555-1234"})
	require.NoError(t, err)

	updated, err := db.FillFactEmbedding(ctx, &Fact{Subject: "applicant", Source: "a.txt", Content: "Phone: 555-1234"})
	require.NoError(t, err)
	assert.False(t, updated, "nothing to store without a vector")

	updated, err = db.FillFactEmbedding(ctx, &Fact{Subject: "applicant", Source: "a.txt", Content: "Phone: 555-1234", Embedding: []float32{1, 0}})
	require.NoError(t, err)
	assert.True(t, updated)

	updated, err = db.FillFactEmbedding(ctx, &Fact{Subject: "applicant", Source: "a.txt", Content: "Phone: 555-1234", Embedding: []float32{0, 1}})
	require.NoError(t, err)
	assert.False(t, updated, "an existing vector is kept")

	facts, err := db.ListFacts(ctx, "applicant")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "1", facts[0].ID)
	assert.Equal(t, []float32{1, 0}, facts[0].Embedding)
}

func TestApplications(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.LatestApplication(ctx, "https://jobs.example.com/1", "")
	require.ErrorIs(t, err, ErrNotFound)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, db.InsertApplication(ctx, &Application{ID: "a", URL: "https://jobs.example.com/1", State: "aborted", CreatedAt: base}))
	require.NoError(t, db.InsertApplication(ctx, &Application{ID: "b", URL: "https://jobs.example.com/1", State: "submitted", Resume: "/r/one.pdf", CreatedAt: base.Add(time.Hour)}))
	require.NoError(t, db.InsertApplication(ctx, &Application{ID: "c", URL: "https://jobs.example.com/1", State: "aborted", CreatedAt: base.Add(2 * time.Hour)}))

	latest, err := db.LatestApplication(ctx, "https://jobs.example.com/1", "")
	require.NoError(t, err)
	assert.Equal(t, "c", latest.ID)

	submitted, err := db.LatestApplication(ctx, "https://jobs.example.com/1", "submitted")
	require.NoError(t, err)
	assert.Equal(t, "b", submitted.ID)
	assert.Equal(t, "/r/one.pdf", submitted.Resume)

	all, err := db.ListApplications(ctx, 2)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "c", all[0].ID)
}

func TestOpenInMemory(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	inserted, err := db.InsertFact(context.Background(), &Fact{ID: "1", Subject: "s", Source: "x", Content: "y"})
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestVectorEncoding(t *testing.T) {
	assert.Nil(t, encodeVector(nil))
	assert.Nil(t, decodeVector([]byte{1, 2, 3}))
	assert.Equal(t, []float32{1.25, -3}, decodeVector(encodeVector([]float32{1.25, -3})))
}
