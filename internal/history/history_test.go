package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eraser-privacy/unsubscribe-sidecar/internal/unsubscribe"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "sub", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAddAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Add(ctx, &Run{
			ID:        id,
			URL:       "https://news.example.com/u/" + id,
			Host:      "news.example.com",
			Status:    unsubscribe.StatusNavigated,
			Strategy:  string(unsubscribe.SubmitDirectLink),
			Actions:   []string{"button_clicked", "navigation_detected"},
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	runs, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
	assert.Equal(t, []string{"button_clicked", "navigation_detected"}, runs[0].Actions)
	assert.True(t, runs[0].CreatedAt.Equal(base.Add(2*time.Minute)))
}

func TestAddRejectsMissingID(t *testing.T) {
	store := newTestStore(t)
	assert.Error(t, store.Add(context.Background(), &Run{URL: "https://x.example"}))
}

func TestGetAndForHost(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, &Run{ID: "1", URL: "https://a.example/u", Host: "a.example", Status: unsubscribe.StatusVisited}))
	require.NoError(t, store.Add(ctx, &Run{ID: "2", URL: "https://b.example/u", Host: "b.example", Status: unsubscribe.StatusError, Error: "navigation failed"}))

	run, err := store.Get(ctx, "2")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "navigation failed", run.Error)
	assert.Equal(t, []string{}, run.Actions)

	missing, err := store.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	runs, err := store.ForHost(ctx, "a.example", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "1", runs[0].ID)
}

func TestStatsAndPrune(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour)

	require.NoError(t, store.Add(ctx, &Run{ID: "old", URL: "u", Host: "h", Status: unsubscribe.StatusError, CreatedAt: old}))
	require.NoError(t, store.Add(ctx, &Run{ID: "n1", URL: "u", Host: "h", Status: unsubscribe.StatusNavigated}))
	require.NoError(t, store.Add(ctx, &Run{ID: "n2", URL: "u", Host: "h", Status: unsubscribe.StatusNavigated}))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats[unsubscribe.StatusNavigated])
	assert.Equal(t, 1, stats[unsubscribe.StatusError])

	n, err := store.Prune(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	runs, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestFromEvidence(t *testing.T) {
	req := unsubscribe.Request{URL: "https://Mail.Example.com/u?email=jane%40example.com&t=abc#top"}
	ev := &unsubscribe.Evidence{
		RunID:      "r1",
		URL:        req.URL,
		Status:     unsubscribe.StatusSubmitted,
		Strategy:   unsubscribe.UncheckAllPreferences,
		Actions:    []string{"form_detected"},
		Screenshot: []byte("12345"),
		Duration:   1500 * time.Millisecond,
	}

	run := FromEvidence(req, ev)
	assert.Equal(t, "mail.example.com", run.Host)
	assert.Equal(t, "https://Mail.Example.com/u", run.URL, "query and fragment are not stored")
	assert.Equal(t, "uncheck_all_preferences", run.Strategy)
	assert.Equal(t, 5, run.ScreenshotBytes)
	assert.EqualValues(t, 1500, run.DurationMs)

	assert.Equal(t, "https://a.example/opt/out", redactURL("https://user:pw@a.example/opt/out?id=9"))
	assert.Equal(t, "", redactURL("://bad"))
}
