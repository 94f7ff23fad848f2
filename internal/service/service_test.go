package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/leafguard/internal/imaging"
	"github.com/iliyamo/leafguard/internal/inference"
	"github.com/iliyamo/leafguard/internal/model"
	"github.com/iliyamo/leafguard/internal/queue"
	"github.com/iliyamo/leafguard/internal/repository"
	"github.com/iliyamo/leafguard/internal/utils"
)

type fakePredictor struct {
	status string
	err    error
}

func (f fakePredictor) Predict(context.Context, []byte) (string, error) { return f.status, f.err }

type fakeRecommender struct {
	text string
	err  error
	got  inference.RecommendRequest
}

func (f *fakeRecommender) Recommend(_ context.Context, req inference.RecommendRequest) (string, error) {
	f.got = req
	return f.text, f.err
}

type fakeImages struct{ saved, deleted []string }

func (f *fakeImages) Save(_ context.Context, name string, _ imaging.Image) (string, error) {
	f.saved = append(f.saved, name)
	return "/uploads/" + name, nil
}

func (f *fakeImages) Delete(_ context.Context, name string) error {
	f.deleted = append(f.deleted, name)
	return nil
}

// failingHistory rejects every append.
type failingHistory struct {
	repository.HistoryStore
	err error
}

func (f failingHistory) Append(context.Context, string, model.HistoryEntry) (model.HistoryEntry, error) {
	return model.HistoryEntry{}, f.err
}

type fakeProcessor struct{ err error }

func (f fakeProcessor) Process(_ context.Context, img imaging.Image) (imaging.Result, error) {
	if f.err != nil {
		return imaging.Result{}, f.err
	}
	return imaging.Result{
		Display:   imaging.Image{Data: img.Data, ContentType: "image/jpeg"},
		Thumbnail: &imaging.Image{Data: []byte("t"), ContentType: "image/jpeg"},
	}, nil
}

type recordingInvalidator struct{ users []string }

func (r *recordingInvalidator) Invalidate(_ context.Context, userID string) error {
	r.users = append(r.users, userID)
	return nil
}

type recordingPublisher struct {
	events []queue.AnalysisCompletedEvent
	err    error
}

func (r *recordingPublisher) PublishAnalysisCompleted(_ context.Context, ev queue.AnalysisCompletedEvent) error {
	r.events = append(r.events, ev)
	return r.err
}

func newUser(t *testing.T, store *repository.MemoryStore) model.User {
	t.Helper()
	u, err := store.Create(context.Background(), model.User{Name: "Ada", Email: "ada@example.com", PasswordHash: "x"})
	require.NoError(t, err)
	return u
}

func pngUpload(userID string) AnalyzeInput {
	return AnalyzeInput{
		UserID: userID, PlantType: "Tomato", WaterFreq: 3,
		Image: imaging.Image{Data: []byte("png"), ContentType: "image/png"},
	}
}

func TestAuthService_RegisterAndLogin(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := &AuthService{Users: store, JWTSecret: "s", TokenTTL: time.Hour, BcryptCost: bcrypt.MinCost}
	ctx := context.Background()

	u, err := svc.Register(ctx, RegisterInput{Name: "Ada", Email: " Ada@Example.com ", Password: "pw-123456"})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", u.Email)
	assert.NotEqual(t, "pw-123456", u.PasswordHash)

	_, err = svc.Register(ctx, RegisterInput{Name: "Ada2", Email: "ada@example.com", Password: "x"})
	assert.Equal(t, KindConflict, KindOf(err))

	tok, err := svc.Login(ctx, "ADA@example.com", "pw-123456")
	require.NoError(t, err)
	claims, err := utils.ParseAccessToken("s", tok.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.Subject)
	assert.Equal(t, "ada@example.com", claims.Email)
}

func TestAuthService_LoginFailuresLookAlike(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := &AuthService{Users: store, JWTSecret: "s", TokenTTL: time.Hour, BcryptCost: bcrypt.MinCost}
	ctx := context.Background()
	_, err := svc.Register(ctx, RegisterInput{Name: "Ada", Email: "ada@example.com", Password: "right"})
	require.NoError(t, err)

	_, errWrong := svc.Login(ctx, "ada@example.com", "wrong")
	_, errUnknown := svc.Login(ctx, "nobody@example.com", "wrong")
	require.Error(t, errWrong)
	require.Error(t, errUnknown)
	assert.Equal(t, errWrong.Error(), errUnknown.Error())
	assert.Equal(t, KindAuth, KindOf(errUnknown))

	_, err = svc.Login(ctx, "", "x")
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestAuthService_DummyHashMatchesConfiguredCost(t *testing.T) {
	cost := bcrypt.MinCost + 1
	svc := &AuthService{Users: repository.NewMemoryStore(), JWTSecret: "s", TokenTTL: time.Hour, BcryptCost: cost}

	_, err := svc.Login(context.Background(), "nobody@example.com", "pw")
	assert.Equal(t, KindAuth, KindOf(err))

	got, err := bcrypt.Cost([]byte(svc.dummyHash()))
	require.NoError(t, err)
	assert.Equal(t, cost, got)
}

func TestAuthService_RegisterValidation(t *testing.T) {
	svc := &AuthService{Users: repository.NewMemoryStore(), BcryptCost: bcrypt.MinCost}
	long := make([]byte, 73)
	for i := range long {
		long[i] = 'a'
	}
	cases := []RegisterInput{
		{Email: "a@b.c", Password: "p"},
		{Name: "n", Password: "p"},
		{Name: "n", Email: "a@b.c"},
		{Name: "n", Email: "not-an-email", Password: "p"},
		{Name: "n", Email: "a@b.c", Password: string(long)},
		{Name: strings.Repeat("n", 101), Email: "a@b.c", Password: "p"},
	}
	for i, in := range cases {
		_, err := svc.Register(context.Background(), in)
		assert.Equal(t, KindValidation, KindOf(err), "case %d", i)
	}
}

func TestAnalysisService_Success(t *testing.T) {
	store := repository.NewMemoryStore()
	u := newUser(t, store)
	rec := &fakeRecommender{text: "Water less"}
	images := &fakeImages{}
	cache := &recordingInvalidator{}
	events := &recordingPublisher{}
	svc := &AnalysisService{
		Processor: fakeProcessor{}, Predictor: fakePredictor{status: "Rust"}, Recommender: rec,
		Images: images, History: store, Cache: cache, Events: events,
	}

	res, err := svc.Analyze(context.Background(), pngUpload(u.ID))
	require.NoError(t, err)
	assert.Equal(t, "Rust", res.Status)
	assert.Equal(t, "Water less", res.Recommendation)
	assert.False(t, res.Degraded)
	require.Len(t, images.saved, 2)
	assert.Equal(t, "thumb-"+images.saved[0], images.saved[1])
	assert.Equal(t, "/uploads/"+images.saved[1], res.ThumbnailURL)
	assert.Equal(t, inference.RecommendRequest{Status: "Rust", PlantType: "Tomato", WaterFreq: 3, Language: "en"}, rec.got)

	page, err := store.Page(context.Background(), u.ID, 0, 10)
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, res.Entry.ID, page.Entries[0].ID)

	assert.Equal(t, []string{u.ID}, cache.users)
	require.Len(t, events.events, 1)
	assert.Equal(t, res.Entry.ID, events.events[0].EntryID)
}

func TestAnalysisService_RecommendationDegrades(t *testing.T) {
	store := repository.NewMemoryStore()
	u := newUser(t, store)
	events := &recordingPublisher{err: errors.New("broker down")}
	svc := &AnalysisService{
		Predictor: fakePredictor{status: "Rust"}, Recommender: &fakeRecommender{err: context.DeadlineExceeded},
		Images: &fakeImages{}, History: store, Events: events,
	}

	res, err := svc.Analyze(context.Background(), pngUpload(u.ID))
	require.NoError(t, err)
	assert.Equal(t, RecommendationUnavailable, res.Recommendation)
	assert.True(t, res.Degraded)
	assert.Equal(t, res.ImageURL, res.ThumbnailURL)
	assert.True(t, events.events[0].RecommendationDegraded)
}

func TestAnalysisService_PredictionFailureStoresNothing(t *testing.T) {
	store := repository.NewMemoryStore()
	u := newUser(t, store)
	images := &fakeImages{}
	svc := &AnalysisService{
		Predictor: fakePredictor{err: fmt.Errorf("status 500")}, Recommender: &fakeRecommender{},
		Images: images, History: store,
	}

	_, err := svc.Analyze(context.Background(), pngUpload(u.ID))
	assert.Equal(t, KindUpstream, KindOf(err))
	assert.Empty(t, images.saved)
	page, err := store.Page(context.Background(), u.ID, 0, 10)
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestAnalysisService_ProcessingFailureKeepsOriginal(t *testing.T) {
	store := repository.NewMemoryStore()
	u := newUser(t, store)
	images := &fakeImages{}
	svc := &AnalysisService{
		Processor: fakeProcessor{err: errors.New("cannot decode")}, Predictor: fakePredictor{status: "Healthy"},
		Recommender: &fakeRecommender{text: "ok"}, Images: images, History: store,
	}

	res, err := svc.Analyze(context.Background(), pngUpload(u.ID))
	require.NoError(t, err)
	require.Len(t, images.saved, 1)
	assert.Regexp(t, `\.png$`, images.saved[0])
	assert.Equal(t, res.ImageURL, res.ThumbnailURL)
}

func TestAnalysisService_Validation(t *testing.T) {
	svc := &AnalysisService{}
	in := pngUpload("u1")
	in.Image.ContentType = "text/plain"
	_, err := svc.Analyze(context.Background(), in)
	assert.Equal(t, KindValidation, KindOf(err))

	in = pngUpload("u1")
	in.PlantType = " "
	_, err = svc.Analyze(context.Background(), in)
	assert.Equal(t, KindValidation, KindOf(err))

	in = pngUpload("u1")
	in.Image.Data = nil
	_, err = svc.Analyze(context.Background(), in)
	assert.Equal(t, KindValidation, KindOf(err))

	in = pngUpload("u1")
	in.PlantType = strings.Repeat("p", MaxPlantTypeLength+1)
	_, err = svc.Analyze(context.Background(), in)
	assert.Equal(t, KindValidation, KindOf(err))

	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		in = pngUpload("u1")
		in.WaterFreq = v
		_, err = svc.Analyze(context.Background(), in)
		assert.Equal(t, KindValidation, KindOf(err), "waterFreq %v", v)
	}
}

func TestAnalysisService_HistoryFailureRemovesImages(t *testing.T) {
	images := &fakeImages{}
	svc := &AnalysisService{
		Processor: fakeProcessor{}, Predictor: fakePredictor{status: "Rust"},
		Recommender: &fakeRecommender{text: "x"}, Images: images,
		History: failingHistory{err: errors.New("Error 1406: Data too long")},
	}

	_, err := svc.Analyze(context.Background(), pngUpload("u1"))
	assert.Equal(t, KindInternal, KindOf(err))
	require.Len(t, images.saved, 2)
	assert.ElementsMatch(t, images.saved, images.deleted)
}

func TestAnalysisService_UnknownUser(t *testing.T) {
	svc := &AnalysisService{
		Predictor: fakePredictor{status: "Rust"}, Recommender: &fakeRecommender{text: "x"},
		Images: &fakeImages{}, History: repository.NewMemoryStore(),
	}
	images := svc.Images.(*fakeImages)
	_, err := svc.Analyze(context.Background(), pngUpload("ghost"))
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, images.saved, images.deleted)
}

func TestHistoryService_Normalize(t *testing.T) {
	svc := &HistoryService{DefaultLimit: 10, MaxLimit: 100}
	tests := []struct{ page, limit, wantPage, wantLimit int }{
		{0, 0, 1, 10},
		{-3, 5, 1, 5},
		{2, 1000, 2, 100},
		{4, -1, 4, 10},
	}
	for _, tt := range tests {
		p, l := svc.Normalize(tt.page, tt.limit)
		assert.Equal(t, tt.wantPage, p)
		assert.Equal(t, tt.wantLimit, l)
	}
}

func TestHistoryService_Get(t *testing.T) {
	store := repository.NewMemoryStore()
	u := newUser(t, store)
	for i := 0; i < 12; i++ {
		_, err := store.Append(context.Background(), u.ID, model.HistoryEntry{Status: fmt.Sprintf("s%d", i)})
		require.NoError(t, err)
	}
	svc := &HistoryService{Store: store, DefaultLimit: 10, MaxLimit: 100}

	res, err := svc.Get(context.Background(), u.ID, 2, 5)
	require.NoError(t, err)
	assert.Equal(t, "Ada", res.Username)
	assert.Equal(t, 12, res.Total)
	assert.Equal(t, 3, res.Pages)
	require.Len(t, res.Entries, 5)
	assert.Equal(t, "s6", res.Entries[0].Status)
	assert.Equal(t, "s2", res.Entries[4].Status)

	_, err = svc.Get(context.Background(), "ghost", 1, 5)
	assert.Equal(t, KindNotFound, KindOf(err))
}
