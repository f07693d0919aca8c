package library

import (
	"context"
	"sync"
	"testing"
	"time"

	"CalmFM/cache"
	"CalmFM/db"
	"CalmFM/model"
	"CalmFM/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// stepClock advances one second on every reading.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []model.ChangeEvent
}

func (n *recordingNotifier) Notify(_ context.Context, _ int64, event model.ChangeEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) types() []model.ChangeEventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]model.ChangeEventType, len(n.events))
	for i, e := range n.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	svc      *Service
	gdb      *gorm.DB
	notifier *recordingNotifier
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	gdb, err := db.NewMock()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.CloseGormDB(gdb) })

	n := &recordingNotifier{}
	clock := &stepClock{t: time.Now().Add(-time.Hour)}
	opts = append([]Option{WithNotifier(n), WithClock(clock.Now)}, opts...)
	svc := NewService(Repositories{
		Tracks:    repository.NewGormTrackRepository(gdb),
		Favorites: repository.NewGormFavoriteRepository(gdb),
		Plays:     repository.NewGormPlayHistoryRepository(gdb),
	}, opts...)
	return &fixture{svc: svc, gdb: gdb, notifier: n}
}

func (f *fixture) create(t *testing.T, userID int64, genre model.Genre) *model.Track {
	t.Helper()
	track, err := f.svc.CreateTrack(context.Background(), userID, CreateTrackInput{Title: "Study Session", Prompt: "rainy cafe", Genre: genre})
	require.NoError(t, err)
	return track
}

func (f *fixture) ready(t *testing.T, userID int64) *model.Track {
	t.Helper()
	ctx := context.Background()
	track := f.create(t, userID, model.GenreLofi)
	require.NoError(t, f.svc.BeginGeneration(ctx, userID, track.ID))
	require.NoError(t, f.svc.CompleteGeneration(ctx, userID, track.ID, ReadyOutcome("https://cdn.example/"+track.ID+".mp3")))
	return track
}

func (f *fixture) get(t *testing.T, userID int64, id string) *model.Track {
	t.Helper()
	track, err := f.svc.GetTrack(context.Background(), userID, id)
	require.NoError(t, err)
	return track
}

func (f *fixture) count(t *testing.T, m interface{}, trackID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.gdb.Model(m).Where("track_id = ?", trackID).Count(&n).Error)
	return n
}

func ids(tracks []*model.Track) []string {
	out := make([]string, len(tracks))
	for i, t := range tracks {
		out[i] = t.ID
	}
	return out
}

func TestCreateTrack(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	track := f.create(t, 1, model.GenreJazz)
	require.Equal(t, model.TrackStatusPending, track.Status)

	got := f.get(t, 1, track.ID)
	require.NotNil(t, got)
	require.Equal(t, model.TrackStatusPending, got.Status)
	require.Nil(t, got.AudioURL)
	require.Nil(t, got.ImageURL)
	require.Nil(t, got.ProviderJobID)
	require.Nil(t, got.Duration)
	require.Equal(t, []model.ChangeEventType{model.EventTrackCreated}, f.notifier.types())
}

func TestCreateTrackValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	cases := []CreateTrackInput{
		{Title: " ", Prompt: "p", Genre: model.GenreJazz},
		{Title: "t", Prompt: "", Genre: model.GenreJazz},
		{Title: "t", Prompt: "p", Genre: "polka"},
	}
	for _, in := range cases {
		_, err := f.svc.CreateTrack(ctx, 1, in)
		require.ErrorIs(t, err, ErrValidation)
	}

	tracks, err := f.svc.ListTracks(ctx, 1, "")
	require.NoError(t, err)
	require.Empty(t, tracks)
}

func TestAnonymousCaller(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	owned := f.ready(t, 1)

	_, err := f.svc.CreateTrack(ctx, 0, CreateTrackInput{Title: "t", Prompt: "p", Genre: model.GenreJazz})
	require.ErrorIs(t, err, ErrUnauthenticated)
	require.ErrorIs(t, f.svc.BeginGeneration(ctx, 0, owned.ID), ErrUnauthenticated)
	require.ErrorIs(t, f.svc.CompleteGeneration(ctx, 0, owned.ID, FailedOutcome()), ErrUnauthenticated)
	require.ErrorIs(t, f.svc.DeleteTrack(ctx, 0, owned.ID), ErrUnauthenticated)
	require.ErrorIs(t, f.svc.RecordPlay(ctx, 0, owned.ID), ErrUnauthenticated)
	_, err = f.svc.ToggleFavorite(ctx, 0, owned.ID)
	require.ErrorIs(t, err, ErrUnauthenticated)

	require.Nil(t, f.get(t, 0, owned.ID))
	tracks, err := f.svc.ListTracks(ctx, 0, "")
	require.NoError(t, err)
	require.Empty(t, tracks)
	tracks, err = f.svc.ListReady(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, tracks)
	tracks, err = f.svc.ListFavorites(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, tracks)
	tracks, err = f.svc.ListRecentlyPlayed(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, tracks)
	fav, err := f.svc.IsFavorite(ctx, 0, owned.ID)
	require.NoError(t, err)
	require.False(t, fav)
}

func TestForeignCallerIsRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	track := f.create(t, 1, model.GenreAmbient)

	require.ErrorIs(t, f.svc.BeginGeneration(ctx, 2, track.ID), ErrNotFound)
	require.NoError(t, f.svc.BeginGeneration(ctx, 1, track.ID))
	require.ErrorIs(t, f.svc.CompleteGeneration(ctx, 2, track.ID, ReadyOutcome("x")), ErrNotFound)
	require.ErrorIs(t, f.svc.DeleteTrack(ctx, 2, track.ID), ErrNotFound)
	require.ErrorIs(t, f.svc.RecordPlay(ctx, 2, track.ID), ErrNotFound)
	_, err := f.svc.ToggleFavorite(ctx, 2, track.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.Nil(t, f.get(t, 2, track.ID))

	require.ErrorIs(t, f.svc.BeginGeneration(ctx, 1, "missing"), ErrNotFound)
	require.Equal(t, model.TrackStatusGenerating, f.get(t, 1, track.ID).Status)
}

func TestLifecycleTransitions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	track := f.create(t, 1, model.GenreJazz)

	require.ErrorIs(t, f.svc.CompleteGeneration(ctx, 1, track.ID, ReadyOutcome("x")), ErrInvalidTransition)
	require.Equal(t, model.TrackStatusPending, f.get(t, 1, track.ID).Status)

	require.NoError(t, f.svc.BeginGeneration(ctx, 1, track.ID))
	require.NoError(t, f.svc.BeginGeneration(ctx, 1, track.ID))
	require.Equal(t, model.TrackStatusGenerating, f.get(t, 1, track.ID).Status)

	image := "https://cdn.example/cover.png"
	dur := 93.5
	outcome := ReadyOutcome("https://cdn.example/a.mp3")
	outcome.ImageURL = &image
	outcome.Duration = &dur
	require.NoError(t, f.svc.CompleteGeneration(ctx, 1, track.ID, outcome))

	got := f.get(t, 1, track.ID)
	require.Equal(t, model.TrackStatusReady, got.Status)
	require.Equal(t, "https://cdn.example/a.mp3", *got.AudioURL)
	require.Equal(t, image, *got.ImageURL)
	require.Equal(t, dur, *got.Duration)
	require.Nil(t, got.ProviderJobID)

	require.ErrorIs(t, f.svc.BeginGeneration(ctx, 1, track.ID), ErrInvalidTransition)
	require.ErrorIs(t, f.svc.CompleteGeneration(ctx, 1, track.ID, FailedOutcome()), ErrInvalidTransition)
	require.Equal(t, model.TrackStatusReady, f.get(t, 1, track.ID).Status)
}

func TestFailedOutcomeLeavesAssetsUnset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	track := f.create(t, 1, model.GenreClassical)

	require.NoError(t, f.svc.BeginGeneration(ctx, 1, track.ID))
	outcome := FailedOutcome()
	outcome.AudioURL = "ignored"
	require.NoError(t, f.svc.CompleteGeneration(ctx, 1, track.ID, outcome))

	got := f.get(t, 1, track.ID)
	require.Equal(t, model.TrackStatusFailed, got.Status)
	require.Nil(t, got.AudioURL)
	require.Nil(t, got.Duration)
}

func TestReadyOutcomeRequiresAudio(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	track := f.create(t, 1, model.GenreJazz)
	require.NoError(t, f.svc.BeginGeneration(ctx, 1, track.ID))

	require.ErrorIs(t, f.svc.CompleteGeneration(ctx, 1, track.ID, Outcome{}), ErrValidation)
	require.Equal(t, model.TrackStatusGenerating, f.get(t, 1, track.ID).Status)
}

func TestToggleFavoriteRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	track := f.ready(t, 1)

	on, err := f.svc.ToggleFavorite(ctx, 1, track.ID)
	require.NoError(t, err)
	require.True(t, on)
	favs, err := f.svc.ListFavorites(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []string{track.ID}, ids(favs))
	require.EqualValues(t, 1, f.count(t, &model.Favorite{}, track.ID))

	on, err = f.svc.ToggleFavorite(ctx, 1, track.ID)
	require.NoError(t, err)
	require.False(t, on)
	favs, err = f.svc.ListFavorites(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, favs)
	require.EqualValues(t, 0, f.count(t, &model.Favorite{}, track.ID))
}

func TestToggleFavoriteConcurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	track := f.ready(t, 1)

	const toggles = 20
	var wg sync.WaitGroup
	results := make(chan bool, toggles)
	for i := 0; i < toggles; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			on, err := f.svc.ToggleFavorite(ctx, 1, track.ID)
			assert.NoError(t, err)
			results <- on
		}()
	}
	wg.Wait()
	close(results)

	var on int
	for r := range results {
		if r {
			on++
		}
	}
	require.Equal(t, toggles/2, on)
	require.EqualValues(t, 0, f.count(t, &model.Favorite{}, track.ID))
}

func TestListFavoritesOrderAndFilter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	first := f.ready(t, 1)
	second := f.ready(t, 1)
	pending := f.create(t, 1, model.GenreJazz)

	for _, id := range []string{first.ID, pending.ID, second.ID} {
		_, err := f.svc.ToggleFavorite(ctx, 1, id)
		require.NoError(t, err)
	}

	favs, err := f.svc.ListFavorites(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []string{second.ID, first.ID}, ids(favs))

	fav, err := f.svc.IsFavorite(ctx, 1, pending.ID)
	require.NoError(t, err)
	require.True(t, fav)
}

func TestDeleteTrackCascades(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	track := f.ready(t, 1)
	keep := f.ready(t, 1)

	_, err := f.svc.ToggleFavorite(ctx, 1, track.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.RecordPlay(ctx, 1, track.ID))
	require.NoError(t, f.svc.RecordPlay(ctx, 1, keep.ID))

	require.NoError(t, f.svc.DeleteTrack(ctx, 1, track.ID))

	require.EqualValues(t, 0, f.count(t, &model.Favorite{}, track.ID))
	require.EqualValues(t, 0, f.count(t, &model.PlayHistory{}, track.ID))
	require.EqualValues(t, 1, f.count(t, &model.PlayHistory{}, keep.ID))
	for _, user := range []int64{0, 1, 2} {
		require.Nil(t, f.get(t, user, track.ID))
	}
	require.ErrorIs(t, f.svc.DeleteTrack(ctx, 1, track.ID), ErrNotFound)

	recent, err := f.svc.ListRecentlyPlayed(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []string{keep.ID}, ids(recent))
}

// deleteAfterLookup deletes a track right after the ownership lookup has
// read it, as a concurrent DeleteTrack committing in that window would.
type deleteAfterLookup struct {
	repository.TrackRepository
}

func (r deleteAfterLookup) GetByID(ctx context.Context, id string) (*model.Track, error) {
	track, err := r.TrackRepository.GetByID(ctx, id)
	if err != nil || track == nil {
		return track, err
	}
	if _, err := r.DeleteCascade(ctx, track.UserID, id); err != nil {
		return nil, err
	}
	return track, nil
}

func TestDeleteDuringToggleOrPlayLeavesNoOrphans(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	favTrack, playTrack := f.ready(t, 1), f.ready(t, 1)

	svc := NewService(Repositories{
		Tracks:    deleteAfterLookup{repository.NewGormTrackRepository(f.gdb)},
		Favorites: repository.NewGormFavoriteRepository(f.gdb),
		Plays:     repository.NewGormPlayHistoryRepository(f.gdb),
	})

	favorite, err := svc.ToggleFavorite(ctx, 1, favTrack.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.False(t, favorite)
	require.ErrorIs(t, svc.RecordPlay(ctx, 1, playTrack.ID), ErrNotFound)

	require.Nil(t, f.get(t, 1, favTrack.ID))
	require.Nil(t, f.get(t, 1, playTrack.ID))
	require.EqualValues(t, 0, f.count(t, &model.Favorite{}, favTrack.ID))
	require.EqualValues(t, 0, f.count(t, &model.PlayHistory{}, playTrack.ID))
}

func playSequence(t *testing.T, f *fixture) (a, b, c *model.Track) {
	t.Helper()
	ctx := context.Background()
	a, b, c = f.ready(t, 1), f.ready(t, 1), f.ready(t, 1)
	for _, tr := range []*model.Track{a, b, a, c, b, a} {
		require.NoError(t, f.svc.RecordPlay(ctx, 1, tr.ID))
	}
	return a, b, c
}

func TestListRecentlyPlayedDedupe(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	a, b, c := playSequence(t, f)

	recent, err := f.svc.ListRecentlyPlayed(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, []string{a.ID, b.ID, c.ID}, ids(recent))
}

func TestListRecentlyPlayedWithCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t, WithRecentCache(cache.NewRecentPlayCache(client, RecentEventWindow)))
	a, b, c := playSequence(t, f)

	// cold: filled from the database
	recent, err := f.svc.ListRecentlyPlayed(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []string{a.ID, b.ID, c.ID}, ids(recent))
	require.True(t, mr.Exists("recent:1"))

	// warm: pushed on play
	require.NoError(t, f.svc.RecordPlay(ctx, 1, c.ID))
	recent, err = f.svc.ListRecentlyPlayed(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []string{c.ID, a.ID, b.ID}, ids(recent))

	require.NoError(t, f.svc.DeleteTrack(ctx, 1, a.ID))
	require.False(t, mr.Exists("recent:1"))
	recent, err = f.svc.ListRecentlyPlayed(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []string{c.ID, b.ID}, ids(recent))
}

// playDuringRead runs during once, right after the first history read.
type playDuringRead struct {
	repository.PlayHistoryRepository
	once   sync.Once
	during func()
}

func (r *playDuringRead) Recent(ctx context.Context, userID int64, limit int) ([]*model.PlayHistory, error) {
	plays, err := r.PlayHistoryRepository.Recent(ctx, userID, limit)
	r.once.Do(r.during)
	return plays, err
}

func TestListRecentlyPlayedCacheKeepsPlayRecordedDuringFill(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t)
	a, b := f.ready(t, 1), f.ready(t, 1)

	var svc *Service
	plays := &playDuringRead{PlayHistoryRepository: repository.NewGormPlayHistoryRepository(f.gdb)}
	plays.during = func() { require.NoError(t, svc.RecordPlay(ctx, 1, b.ID)) }
	clock := &stepClock{t: time.Now()}
	svc = NewService(Repositories{
		Tracks:    repository.NewGormTrackRepository(f.gdb),
		Favorites: repository.NewGormFavoriteRepository(f.gdb),
		Plays:     plays,
	}, WithRecentCache(cache.NewRecentPlayCache(client, RecentEventWindow)), WithClock(clock.Now))

	require.NoError(t, svc.RecordPlay(ctx, 1, a.ID))

	recent, err := svc.ListRecentlyPlayed(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []string{a.ID}, ids(recent))

	recent, err = svc.ListRecentlyPlayed(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []string{b.ID, a.ID}, ids(recent))
}

func TestListRecentlyPlayedLimits(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	tracks := make([]*model.Track, 7)
	for i := range tracks {
		tracks[i] = f.ready(t, 1)
	}
	// oldest event falls outside the window of ten
	require.NoError(t, f.svc.RecordPlay(ctx, 1, tracks[6].ID))
	for i := 0; i < 10; i++ {
		require.NoError(t, f.svc.RecordPlay(ctx, 1, tracks[i%6].ID))
	}

	recent, err := f.svc.ListRecentlyPlayed(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, RecentTrackLimit)
	require.NotContains(t, ids(recent), tracks[6].ID)
	require.Equal(t, tracks[3].ID, recent[0].ID)
}

func TestDedupe(t *testing.T) {
	t.Parallel()
	require.Equal(t, []string{"A", "B", "C"}, dedupe([]string{"A", "B", "A", "C", "B", "A"}, 5))
	require.Equal(t, []string{"A", "B"}, dedupe([]string{"A", "B", "A", "C"}, 2))
	require.Empty(t, dedupe(nil, 5))
}

func TestFailStaleGenerations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, WithClock(func() time.Time { return time.Now().Add(time.Hour) }))

	stuck := f.create(t, 1, model.GenreJazz)
	require.NoError(t, f.svc.BeginGeneration(ctx, 1, stuck.ID))
	waiting := f.create(t, 2, model.GenreJazz)
	live := f.create(t, 3, model.GenreJazz)
	require.NoError(t, f.svc.BeginGeneration(ctx, 3, live.ID))

	n, err := f.svc.FailStaleGenerations(ctx, 10*time.Minute, func(id string) bool { return id == live.ID })
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, model.TrackStatusFailed, f.get(t, 1, stuck.ID).Status)
	require.Equal(t, model.TrackStatusPending, f.get(t, 2, waiting.ID).Status)
	require.Equal(t, model.TrackStatusGenerating, f.get(t, 3, live.ID).Status)
}

func TestKeyedMutexReleasesKeys(t *testing.T) {
	t.Parallel()
	k := newKeyedMutex()

	unlock := k.Lock("a")
	done := make(chan struct{})
	go func() {
		defer close(done)
		k.Lock("a")()
	}()

	select {
	case <-done:
		t.Fatal("second lock acquired while held")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	<-done

	k.mu.Lock()
	defer k.mu.Unlock()
	require.Empty(t, k.locks)
}
