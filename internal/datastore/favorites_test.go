package datastore

import (
	"errors"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertFavorite_Idempotent(t *testing.T) {
	fetcher, mock := newMockFetcher(t)
	s := newTestStore(t, fetcher)
	ctx := t.Context()

	story := sampleStory("story-1")
	registerImage(mock, story.PhotoURL)

	_, err := s.UpsertFavorite(ctx, story)
	require.NoError(t, err)

	story.Description = "second save"
	_, err = s.UpsertFavorite(ctx, story)
	require.NoError(t, err)

	favs, err := s.ListFavorites(ctx)
	require.NoError(t, err)
	require.Len(t, favs, 1)
	assert.Equal(t, "second save", favs[0].Description)

	ok, err := s.IsFavorite(ctx, "story-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ref, err := s.GetCachedImage(ctx, story.PhotoURL)
	require.NoError(t, err)
	require.NotNil(t, ref, "favoriting caches the image")
	assert.Equal(t, "story-1", mustCachedStoryID(t, s, story.PhotoURL))
}

func TestUpsertFavorite_ImageFailureIsNotFatal(t *testing.T) {
	fetcher, mock := newMockFetcher(t)
	s := newTestStore(t, fetcher)
	ctx := t.Context()

	story := sampleStory("story-1")
	mock.RegisterResponder(http.MethodGet, story.PhotoURL, httpmock.NewErrorResponder(errors.New("offline")))

	fav, err := s.UpsertFavorite(ctx, story)
	require.NoError(t, err)
	require.NotNil(t, fav)
	assert.False(t, fav.AddedAt.IsZero())

	ref, err := s.GetCachedImage(ctx, story.PhotoURL)
	require.NoError(t, err)
	assert.Nil(t, ref)
}

func TestRemoveFavorite_EvictsImage(t *testing.T) {
	fetcher, mock := newMockFetcher(t)
	s := newTestStore(t, fetcher)
	ctx := t.Context()

	story := sampleStory("story-1")
	registerImage(mock, story.PhotoURL)

	_, err := s.UpsertFavorite(ctx, story)
	require.NoError(t, err)

	require.NoError(t, s.RemoveFavorite(ctx, "story-1"))

	ok, err := s.IsFavorite(ctx, "story-1")
	require.NoError(t, err)
	assert.False(t, ok)

	ref, err := s.GetCachedImage(ctx, story.PhotoURL)
	require.NoError(t, err)
	assert.Nil(t, ref)
}

func TestRemoveFavorite_ImageAlreadyMissing(t *testing.T) {
	fetcher, mock := newMockFetcher(t)
	s := newTestStore(t, fetcher)
	ctx := t.Context()

	story := sampleStory("story-1")
	registerImage(mock, story.PhotoURL)
	_, err := s.UpsertFavorite(ctx, story)
	require.NoError(t, err)
	require.True(t, s.RemoveCachedImage(ctx, story.PhotoURL))

	require.NoError(t, s.RemoveFavorite(ctx, "story-1"))
	ref, err := s.GetCachedImage(ctx, story.PhotoURL)
	require.NoError(t, err)
	assert.Nil(t, ref)
}

func TestRemoveFavorite_SharedImageKept(t *testing.T) {
	fetcher, mock := newMockFetcher(t)
	s := newTestStore(t, fetcher)
	ctx := t.Context()

	a := sampleStory("a")
	b := sampleStory("b")
	b.PhotoURL = a.PhotoURL
	registerImage(mock, a.PhotoURL)

	_, err := s.UpsertFavorite(ctx, a)
	require.NoError(t, err)
	_, err = s.UpsertFavorite(ctx, b)
	require.NoError(t, err)

	require.NoError(t, s.RemoveFavorite(ctx, "a"))
	ref, err := s.GetCachedImage(ctx, a.PhotoURL)
	require.NoError(t, err)
	assert.NotNil(t, ref, "image still referenced by favorite b")

	require.NoError(t, s.RemoveFavorite(ctx, "b"))
	ref, err = s.GetCachedImage(ctx, a.PhotoURL)
	require.NoError(t, err)
	assert.Nil(t, ref)
}

func TestRemoveFavorite_UnknownID(t *testing.T) {
	s := newTestStore(t, nil)
	require.NoError(t, s.RemoveFavorite(t.Context(), "missing"))
}

func TestClearFavorites(t *testing.T) {
	fetcher, mock := newMockFetcher(t)
	s := newTestStore(t, fetcher)
	ctx := t.Context()

	for _, id := range []string{"a", "b", "c"} {
		story := sampleStory(id)
		registerImage(mock, story.PhotoURL)
		_, err := s.UpsertFavorite(ctx, story)
		require.NoError(t, err)
	}

	removed, err := s.ClearFavorites(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	favs, err := s.ListFavorites(ctx)
	require.NoError(t, err)
	assert.Empty(t, favs)

	for _, id := range []string{"a", "b", "c"} {
		ref, err := s.GetCachedImage(ctx, sampleStory(id).PhotoURL)
		require.NoError(t, err)
		assert.Nil(t, ref)
	}
}

func mustCachedStoryID(t *testing.T, s *Store, url string) string {
	t.Helper()
	db, err := s.Open(t.Context())
	require.NoError(t, err)
	var img CachedImage
	require.NoError(t, db.Where("url = ?", url).First(&img).Error)
	return img.StoryID
}
