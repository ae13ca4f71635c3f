package retrieval

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := NewIndex(Config{InMemory: true}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestRetrieveMatchesRelevantDocument(t *testing.T) {
	idx := newTestIndex(t)

	require.NoError(t, idx.Add("breathing-exercises", "Box breathing is a grounding technique for anxiety."))
	require.NoError(t, idx.Add("privacy-policy", "We retain interaction data for thirty days."))

	docs, err := idx.Retrieve(context.Background(), "grounding technique for anxiety", 3)
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	assert.Equal(t, "breathing-exercises", docs[0].Title)
	assert.Greater(t, docs[0].Score, 0.0)
}

func TestRetrieveEmptyQueryReturnsNothing(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Add("doc", "some content"))

	docs, err := idx.Retrieve(context.Background(), "   ", 3)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestRetrieveRespectsLimit(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Add("one", "wellness session guidance"))
	require.NoError(t, idx.Add("two", "wellness session scheduling"))
	require.NoError(t, idx.Add("three", "wellness session history"))

	docs, err := idx.Retrieve(context.Background(), "wellness session", 2)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(docs), 2)
}

func TestLoadDirIndexesMarkdownAndText(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "guide.md"), []byte("healing rooms offer guided reflection"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("plain notes"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "image.png"), []byte{0x89}, 0o644))

	idx := newTestIndex(t)
	n, err := idx.LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, idx.DocumentCount())

	docs, err := idx.Retrieve(context.Background(), "guided reflection", 3)
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	assert.Equal(t, "guide", docs[0].Title)
}
