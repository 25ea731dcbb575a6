package retrieval

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderinc/helpdesk-search/internal/document"
	"github.com/renderinc/helpdesk-search/internal/storage"
)

type recordingSearcher struct {
	calls  int
	query  string
	limit  int
	result []document.Scored
	err    error
}

func (s *recordingSearcher) Search(_ context.Context, query string, limit int) ([]document.Scored, error) {
	s.calls++
	s.query, s.limit = query, limit
	return s.result, s.err
}

func TestEngine_Search(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s := &recordingSearcher{result: []document.Scored{{Document: &document.Document{ID: 1, Title: "A"}, Score: 2}}}
	e := NewEngine(s, nil, logger)

	results, err := e.Search(context.Background(), "  backup ", 0)
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, "backup", s.query)
	assert.Equal(t, SuggestLimit, s.limit)

	_, err = e.Search(context.Background(), "backup", 500)
	require.NoError(t, err)
	assert.Equal(t, MaxLimit, s.limit)
}

func TestEngine_BlankQueryMatchesNothing(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s := &recordingSearcher{}
	e := NewEngine(s, nil, logger)

	for _, q := range []string{"", "   ", "\n\t"} {
		results, err := e.Search(context.Background(), q, 10)
		require.NoError(t, err)
		assert.NotNil(t, results)
		assert.Empty(t, results)
	}
	assert.Equal(t, 0, s.calls)
}

func TestEngine_StoreErrorPropagates(t *testing.T) {
	logger, _ := test.NewNullLogger()
	e := NewEngine(&recordingSearcher{err: storage.Unavailable("search", assert.AnError)}, nil, logger)

	_, err := e.Search(context.Background(), "backup", 5)
	assert.ErrorIs(t, err, storage.ErrUnavailable)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 5, ClampLimit(0, SuggestLimit))
	assert.Equal(t, 50, ClampLimit(-3, ListLimit))
	assert.Equal(t, 7, ClampLimit(7, ListLimit))
	assert.Equal(t, MaxLimit, ClampLimit(1000, ListLimit))
}
