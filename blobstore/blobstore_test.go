package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStore_PutGetRoundTrip(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	key := ReportKey("session-1", "draft", "md")
	require.NoError(t, s.Put(ctx, key, []byte("# report"), "text/markdown"))

	data, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "# report", string(data))
}

func TestMemStore_GetMissingKeyReturnsErrNotFound(t *testing.T) {
	s := NewMemStore()
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemStore_ListFiltersByPrefix(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, ChartKey("s1", "chart_1"), []byte("png"), "image/png"))
	require.NoError(t, s.Put(ctx, ChartKey("s1", "chart_2"), []byte("png"), "image/png"))
	require.NoError(t, s.Put(ctx, DimensionKey("s1", "Intro & Scope"), []byte("md"), "text/markdown"))

	charts, err := s.List(ctx, "research-outputs/s1/charts/")
	require.NoError(t, err)
	assert.Len(t, charts, 2)
}

func TestDimensionSlug_NormalizesToLowercaseHyphenated(t *testing.T) {
	assert.Equal(t, "intro-scope", DimensionSlug("Intro & Scope"))
	assert.Equal(t, "methodology", DimensionSlug("Methodology"))
	assert.Equal(t, "dimension", DimensionSlug("***"))
}

func TestReportKey_MatchesCanonicalLayout(t *testing.T) {
	assert.Equal(t, "research-outputs/sess/versions/v2/report.pdf", ReportKey("sess", "v2", "pdf"))
}
