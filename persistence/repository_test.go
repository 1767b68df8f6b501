package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopRepository_DiscardsWrites(t *testing.T) {
	var repo Repository = NoopRepository{}
	err := repo.Write(context.Background(), Record{RunID: "r1", ContentType: ContentRawResult})
	require.NoError(t, err)
}

type memoryRepository struct {
	records []Record
}

func (m *memoryRepository) Write(_ context.Context, rec Record) error {
	m.records = append(m.records, rec)
	return nil
}

func TestRepository_DualWritePerStep(t *testing.T) {
	repo := &memoryRepository{}

	require.NoError(t, repo.Write(context.Background(), Record{RunID: "r1", StepIndex: 0, ContentType: ContentRawResult}))
	require.NoError(t, repo.Write(context.Background(), Record{RunID: "r1", StepIndex: 0, ContentType: ContentFormattedResult}))

	assert.Len(t, repo.records, 2)
	assert.Equal(t, ContentRawResult, repo.records[0].ContentType)
	assert.Equal(t, ContentFormattedResult, repo.records[1].ContentType)
}
