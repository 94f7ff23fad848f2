package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/leafguard/internal/handler"
	"github.com/iliyamo/leafguard/internal/imaging"
	"github.com/iliyamo/leafguard/internal/inference"
	"github.com/iliyamo/leafguard/internal/middleware"
	"github.com/iliyamo/leafguard/internal/model"
	"github.com/iliyamo/leafguard/internal/repository"
	"github.com/iliyamo/leafguard/internal/router"
	"github.com/iliyamo/leafguard/internal/service"
	"github.com/iliyamo/leafguard/internal/storage"
	"github.com/iliyamo/leafguard/internal/utils"
)

const secret = "handler-test-secret"

type app struct {
	e       *echo.Echo
	store   *repository.MemoryStore
	predict *httptest.Server
}

// newApp wires the real router against the in-memory store.  predict and
// recommend stand in for the model services.
func newApp(t *testing.T, predict, recommend http.HandlerFunc, opts ...func(*router.Deps)) *app {
	t.Helper()
	ps := httptest.NewServer(predict)
	rs := httptest.NewServer(recommend)
	t.Cleanup(ps.Close)
	t.Cleanup(rs.Close)

	store := repository.NewMemoryStore()
	images, err := storage.NewDiskStore(t.TempDir())
	require.NoError(t, err)

	analysis := &service.AnalysisService{
		Processor:   imaging.Noop{},
		Predictor:   inference.NewPredictionClient(ps.URL, time.Second, nil),
		Recommender: inference.NewRecommendationClient(rs.URL, 100*time.Millisecond, nil),
		Images:      images,
		History:     store,
	}
	deps := router.Deps{
		JWTSecret:      secret,
		UploadDir:      images.Dir,
		ClientOrigin:   "http://localhost:3000",
		MaxUploadBytes: 1 << 20,
		Health:         &handler.HealthHandler{Store: store, Driver: "memory"},
		Auth: handler.NewAuthHandler(&service.AuthService{
			Users: store, JWTSecret: secret, TokenTTL: time.Hour, BcryptCost: bcrypt.MinCost,
		}),
		Analyze: &handler.AnalyzeHandler{Analysis: analysis, MaxUploadBytes: 1 << 20},
		History: &handler.HistoryHandler{History: &service.HistoryService{Store: store, DefaultLimit: 10, MaxLimit: 100}},
	}
	for _, opt := range opts {
		opt(&deps)
	}
	return &app{e: router.New(deps), store: store, predict: ps}
}

func okPredict(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte(`{"prediction":"Rust"}`))
}

func okRecommend(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte(`{"recommendation":"Remove infected leaves"}`))
}

func (a *app) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func (a *app) postJSON(path string, body any) *httptest.ResponseRecorder {
	bs, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(bs))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return a.do(req)
}

func (a *app) get(path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	return a.do(req)
}

func (a *app) login(t *testing.T, email, password string) string {
	t.Helper()
	rec := a.postJSON("/login", map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expiresAt"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out.Token
}

func (a *app) registerAndLogin(t *testing.T) (string, string) {
	t.Helper()
	rec := a.postJSON("/register", map[string]string{"name": "Ada", "email": "ada@example.com", "password": "s3cret-pw"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	token := a.login(t, "ada@example.com", "s3cret-pw")
	claims, err := utils.ParseAccessToken(secret, token)
	require.NoError(t, err)
	return token, claims.Subject
}

func multipartBody(t *testing.T, withImage bool, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if withImage {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="image"; filename="leaf.png"`)
		h.Set("Content-Type", "image/png")
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write([]byte("\x89PNG fake image bytes"))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func (a *app) analyze(t *testing.T, token string, withImage bool) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, withImage, map[string]string{"plantType": "Tomato", "waterFreq": "3"})
	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set(echo.HeaderContentType, ct)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	return a.do(req)
}

func TestHealth(t *testing.T) {
	a := newApp(t, okPredict, okRecommend)
	for _, path := range []string{"/", "/health"} {
		rec := a.get(path, "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "LeafGuard API Running")
	}
}

func TestRegister_DuplicateEmailConflicts(t *testing.T) {
	a := newApp(t, okPredict, okRecommend)
	body := map[string]string{"username": "ada", "email": "ada@example.com", "password": "pw"}

	assert.Equal(t, http.StatusCreated, a.postJSON("/signup", body).Code)
	rec := a.postJSON("/register", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"email already registered"}`, rec.Body.String())
}

func TestRegister_Validation(t *testing.T) {
	a := newApp(t, okPredict, okRecommend)
	rec := a.postJSON("/register", map[string]string{"email": "ada@example.com", "password": "pw"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "name is required")

	rec = a.postJSON("/register", map[string]string{"name": "Ada", "email": "nope", "password": "pw"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.postJSON("/register", map[string]string{"name": strings.Repeat("a", 101), "email": "ada@example.com", "password": "pw"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "name must be at most 100 characters")
}

func TestLogin_TokenVerifiesAndFailuresMatch(t *testing.T) {
	a := newApp(t, okPredict, okRecommend)
	token, userID := a.registerAndLogin(t)

	me := a.get("/me", token)
	require.Equal(t, http.StatusOK, me.Code)
	assert.JSONEq(t, fmt.Sprintf(`{"userId":%q,"email":"ada@example.com"}`, userID), me.Body.String())

	wrong := a.postJSON("/login", map[string]string{"email": "ada@example.com", "password": "nope"})
	unknown := a.postJSON("/login", map[string]string{"email": "ghost@example.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, wrong.Body.String(), unknown.Body.String())
	assert.JSONEq(t, `{"error":"invalid credentials"}`, wrong.Body.String())

	missing := a.postJSON("/login", map[string]string{"email": "ada@example.com"})
	assert.Equal(t, http.StatusBadRequest, missing.Code)
}

func TestMe_ExpiredToken(t *testing.T) {
	a := newApp(t, okPredict, okRecommend)
	tok, err := utils.NewAccessToken(secret, "u1", "a@b.c", -time.Minute)
	require.NoError(t, err)

	rec := a.get("/me", tok.Token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "token expired")
}

type trackingReader struct {
	r    io.Reader
	read bool
}

func (t *trackingReader) Read(p []byte) (int, error) {
	t.read = true
	return t.r.Read(p)
}

func TestAnalyze_UnauthenticatedRejectedBeforeBodyRead(t *testing.T) {
	a := newApp(t, okPredict, okRecommend)
	body, ct := multipartBody(t, true, map[string]string{"plantType": "Tomato", "waterFreq": "3"})
	tr := &trackingReader{r: body}

	req := httptest.NewRequest(http.MethodPost, "/analyze", tr)
	req.Header.Set(echo.HeaderContentType, ct)
	rec := a.do(req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, tr.read, "multipart body was read")
}

func TestAnalyze_MissingFile(t *testing.T) {
	a := newApp(t, okPredict, okRecommend)
	token, _ := a.registerAndLogin(t)

	rec := a.analyze(t, token, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "image file is required")
}

func TestAnalyze_BadFields(t *testing.T) {
	a := newApp(t, okPredict, okRecommend)
	token, _ := a.registerAndLogin(t)

	for _, fields := range []map[string]string{
		{"waterFreq": "3"},
		{"plantType": "Tomato"},
		{"plantType": "Tomato", "waterFreq": "often"},
		{"plantType": "Tomato", "waterFreq": "NaN"},
		{"plantType": "Tomato", "waterFreq": "+Inf"},
		{"plantType": strings.Repeat("t", 101), "waterFreq": "3"},
	} {
		body, ct := multipartBody(t, true, fields)
		req := httptest.NewRequest(http.MethodPost, "/analyze", body)
		req.Header.Set(echo.HeaderContentType, ct)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
		assert.Equal(t, http.StatusBadRequest, a.do(req).Code, fields)
	}
}

func TestAnalyze_Success(t *testing.T) {
	a := newApp(t, okPredict, okRecommend)
	token, userID := a.registerAndLogin(t)

	rec := a.analyze(t, token, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "Rust", out["status"])
	assert.Equal(t, "Remove infected leaves", out["recommendation"])
	assert.True(t, strings.HasPrefix(out["imageUrl"], "/uploads/"))
	assert.True(t, strings.HasSuffix(out["imageUrl"], ".png"))
	assert.Equal(t, out["imageUrl"], out["thumbnailUrl"])

	page, err := a.store.Page(context.Background(), userID, 0, 10)
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "Tomato", page.Entries[0].PlantType)
}

func TestAnalyze_RecommendationTimeoutDegrades(t *testing.T) {
	slow := func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}
	a := newApp(t, okPredict, slow)
	token, _ := a.registerAndLogin(t)

	rec := a.analyze(t, token, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "Rust", out["status"])
	assert.Equal(t, "Unavailable", out["recommendation"])
}

func TestAnalyze_PredictionFailureIsBadGateway(t *testing.T) {
	failing := func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}
	a := newApp(t, failing, okRecommend)
	token, userID := a.registerAndLogin(t)

	rec := a.analyze(t, token, true)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":"prediction service unavailable"}`, rec.Body.String())

	page, err := a.store.Page(context.Background(), userID, 0, 10)
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestHistory_Paging(t *testing.T) {
	a := newApp(t, okPredict, okRecommend)
	token, userID := a.registerAndLogin(t)
	for i := 0; i < 12; i++ {
		_, err := a.store.Append(context.Background(), userID, model.HistoryEntry{Status: fmt.Sprintf("s%d", i)})
		require.NoError(t, err)
	}

	type historyResp struct {
		Username string               `json:"username"`
		History  []model.HistoryEntry `json:"history"`
		Page     int                  `json:"page"`
		Limit    int                  `json:"limit"`
		Total    int                  `json:"total"`
		Pages    int                  `json:"pages"`
	}
	fetch := func(query string) historyResp {
		rec := a.get("/history"+query, token)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var out historyResp
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		return out
	}

	out := fetch("?page=2&limit=5")
	assert.Equal(t, "Ada", out.Username)
	assert.Equal(t, 12, out.Total)
	assert.Equal(t, 3, out.Pages)
	var statuses []string
	for _, e := range out.History {
		statuses = append(statuses, e.Status)
	}
	assert.Equal(t, []string{"s6", "s5", "s4", "s3", "s2"}, statuses)

	out = fetch("?limit=1000")
	assert.Equal(t, 100, out.Limit)
	assert.Len(t, out.History, 12)

	out = fetch("?page=0")
	assert.Equal(t, 1, out.Page)
	assert.Equal(t, 10, out.Limit)

	out = fetch("?page=-4&limit=abc")
	assert.Equal(t, 1, out.Page)
	assert.Equal(t, 10, out.Limit)
}

func TestHistory_RequiresToken(t *testing.T) {
	a := newApp(t, okPredict, okRecommend)
	rec := a.get("/history", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"missing bearer token"}`, rec.Body.String())
}

func TestHistory_DeletedUserNotFound(t *testing.T) {
	a := newApp(t, okPredict, okRecommend)
	tok, err := utils.NewAccessToken(secret, "ghost", "ghost@example.com", time.Hour)
	require.NoError(t, err)

	rec := a.get("/history", tok.Token)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHTTPErrorHandler(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = handler.HTTPErrorHandler
	e.GET("/boom", func(c echo.Context) error { return fmt.Errorf("db exploded") })
	e.GET("/teapot", func(c echo.Context) error { return echo.NewHTTPError(http.StatusTeapot, "short and stout") })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/teapot", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.JSONEq(t, `{"error":"short and stout"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit_SeesAuthenticatedUser(t *testing.T) {
	var seen []string
	recordUser := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			seen = append(seen, c.Path()+"="+middleware.UserID(c))
			return next(c)
		}
	}
	a := newApp(t, okPredict, okRecommend, func(d *router.Deps) { d.RateLimit = recordUser })
	token, userID := a.registerAndLogin(t)

	seen = nil
	require.Equal(t, http.StatusOK, a.get("/me", token).Code)
	require.Equal(t, http.StatusOK, a.get("/history", token).Code)
	rec := a.analyze(t, token, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"/me=" + userID, "/history=" + userID, "/analyze=" + userID}, seen)

	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	seen = nil
	img := a.get(out["imageUrl"], "")
	assert.Equal(t, http.StatusOK, img.Code)
	assert.Len(t, seen, 1, "uploads are rate limited")
}
