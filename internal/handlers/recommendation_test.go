package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/temcen/hybrec/internal/config"
	"github.com/temcen/hybrec/internal/middleware"
	"github.com/temcen/hybrec/internal/services"
	"github.com/temcen/hybrec/pkg/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// MockRanker is a mock implementation of services.Ranker
type MockRanker struct {
	mock.Mock
}

func (m *MockRanker) Rank(ctx context.Context, req *models.RankingRequest) (*models.RankedResult, error) {
	args := m.Called(ctx, req)
	result, _ := args.Get(0).(*models.RankedResult)
	return result, args.Error(1)
}

func rankedResult(mode models.Mode, ids ...int64) *models.RankedResult {
	result := &models.RankedResult{Mode: mode, EffectiveMode: mode}
	for i, id := range ids {
		result.Items = append(result.Items, models.RankedItem{
			Movie: models.Movie{ID: id, Title: "Movie", Genres: []string{}},
			Score: 1 - float64(i)*0.1,
		})
	}
	return result
}

type testEnv struct {
	router *gin.Engine
	ranker *MockRanker
	auth   *services.AuthService
}

func newTestEnv() *testEnv {
	ranker := new(MockRanker)
	auth := services.NewAuthService(&config.Config{
		Auth: config.AuthConfig{JWTSecret: "handler-secret", TokenTTL: time.Hour},
	}, testLogger())
	handler := NewRecommendationHandler(ranker, testLogger())

	router := gin.New()
	api := router.Group("/api/v1", middleware.Auth(auth, testLogger()))
	recs := api.Group("/recommendations")
	recs.GET("/guest", handler.Guest)
	recs.GET("/search", handler.Search)
	recs.POST("/rank", handler.Rank)
	recs.GET("/personalized", middleware.RequireUser(), handler.Personalized)
	recs.GET("/recent", middleware.RequireUser(), handler.Recent)

	return &testEnv{router: router, ranker: ranker, auth: auth}
}

func (e *testEnv) do(t *testing.T, method, target string, body []byte, userID int64) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != 0 {
		token, err := e.auth.GenerateToken(userID, models.RoleUser)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

type itemsEnvelope struct {
	Status  string              `json:"status"`
	Message string              `json:"message"`
	Data    []models.RankedItem `json:"data"`
}

func decodeItems(t *testing.T, w *httptest.ResponseRecorder) itemsEnvelope {
	t.Helper()
	var env itemsEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Code
}

func TestRecommendationHandler_GuestModes(t *testing.T) {
	tests := []struct {
		name  string
		query string
		match func(*models.RankingRequest) bool
	}{
		{
			name:  "popular by default",
			query: "",
			match: func(r *models.RankingRequest) bool {
				return r.Mode == models.ModeGuestPopular && r.Limit == defaultLimit && r.UserID == nil
			},
		},
		{
			name:  "genres",
			query: "?genres=Drama,Comedy&limit=5",
			match: func(r *models.RankingRequest) bool {
				return r.Mode == models.ModeGuestGenres && r.Limit == 5 &&
					assert.ObjectsAreEqual([]string{"Drama", "Comedy"}, r.Genres)
			},
		},
		{
			name:  "examples win over genres",
			query: "?examples=Heat&examples=Alien,%20Director%27s%20Cut&genres=Drama",
			match: func(r *models.RankingRequest) bool {
				return r.Mode == models.ModeGuestExamples &&
					assert.ObjectsAreEqual([]string{"Heat", "Alien, Director's Cut"}, r.ExampleItems)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			env.ranker.On("Rank", mock.Anything, mock.MatchedBy(tt.match)).
				Return(rankedResult(models.ModeGuestPopular, 3, 1), nil).Once()

			w := env.do(t, http.MethodGet, "/api/v1/recommendations/guest"+tt.query, nil, 0)

			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			body := decodeItems(t, w)
			assert.Equal(t, models.StatusSuccess, body.Status)
			require.Len(t, body.Data, 2)
			assert.Equal(t, int64(3), body.Data[0].ID)
			env.ranker.AssertExpectations(t)
		})
	}
}

func TestRecommendationHandler_Personalized(t *testing.T) {
	t.Run("requires a token", func(t *testing.T) {
		env := newTestEnv()
		w := env.do(t, http.MethodGet, "/api/v1/recommendations/personalized", nil, 0)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		env.ranker.AssertNotCalled(t, "Rank", mock.Anything, mock.Anything)
	})

	t.Run("uses the token identity", func(t *testing.T) {
		env := newTestEnv()
		env.ranker.On("Rank", mock.Anything, mock.MatchedBy(func(r *models.RankingRequest) bool {
			return r.Mode == models.ModePersonalized && r.UserID != nil && *r.UserID == 7 && r.Limit == 3
		})).Return(rankedResult(models.ModePersonalized, 4), nil).Once()

		w := env.do(t, http.MethodGet, "/api/v1/recommendations/personalized?limit=3", nil, 7)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, decodeItems(t, w).Data, 1)
		env.ranker.AssertExpectations(t)
	})
}

func TestRecommendationHandler_Recent(t *testing.T) {
	env := newTestEnv()
	env.ranker.On("Rank", mock.Anything, mock.MatchedBy(func(r *models.RankingRequest) bool {
		return r.Mode == models.ModeRecentActivity && r.RecentSeeds == 5 && *r.UserID == 9
	})).Return(rankedResult(models.ModeRecentActivity), nil).Once()

	w := env.do(t, http.MethodGet, "/api/v1/recommendations/recent?last_n=5", nil, 9)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeItems(t, w).Data)
	env.ranker.AssertExpectations(t)
}

func TestRecommendationHandler_Search(t *testing.T) {
	t.Run("anonymous with filters", func(t *testing.T) {
		env := newTestEnv()
		env.ranker.On("Rank", mock.Anything, mock.MatchedBy(func(r *models.RankingRequest) bool {
			return r.Mode == models.ModeSearch && r.QueryText == "space opera" && r.UserID == nil &&
				r.MinYear != nil && *r.MinYear == 1980 && r.MaxYear == nil &&
				assert.ObjectsAreEqual([]string{"Sci-Fi"}, r.Genres)
		})).Return(rankedResult(models.ModeSearch, 101, 102), nil).Once()

		w := env.do(t, http.MethodGet, "/api/v1/recommendations/search?query=space+opera&genres=Sci-Fi&min_year=1980", nil, 0)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []int64{101, 102}, []int64{decodeItems(t, w).Data[0].ID, decodeItems(t, w).Data[1].ID})
		env.ranker.AssertExpectations(t)
	})

	t.Run("authenticated", func(t *testing.T) {
		env := newTestEnv()
		env.ranker.On("Rank", mock.Anything, mock.MatchedBy(func(r *models.RankingRequest) bool {
			return r.UserID != nil && *r.UserID == 7
		})).Return(rankedResult(models.ModeSearch, 102, 101), nil).Once()

		w := env.do(t, http.MethodGet, "/api/v1/recommendations/search?query=space", nil, 7)

		require.Equal(t, http.StatusOK, w.Code)
		env.ranker.AssertExpectations(t)
	})

	t.Run("malformed year", func(t *testing.T) {
		env := newTestEnv()
		w := env.do(t, http.MethodGet, "/api/v1/recommendations/search?query=space&min_year=eighties", nil, 0)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_REQUEST", errorCode(t, w))
	})
}

func TestRecommendationHandler_Errors(t *testing.T) {
	t.Run("limit out of range", func(t *testing.T) {
		env := newTestEnv()
		w := env.do(t, http.MethodGet, "/api/v1/recommendations/guest?limit=0", nil, 0)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_REQUEST", errorCode(t, w))
		env.ranker.AssertNotCalled(t, "Rank", mock.Anything, mock.Anything)
	})

	t.Run("engine validation error", func(t *testing.T) {
		env := newTestEnv()
		env.ranker.On("Rank", mock.Anything, mock.Anything).
			Return(nil, &services.ValidationError{Field: "query_text", Reason: "is required"}).Once()

		w := env.do(t, http.MethodGet, "/api/v1/recommendations/search", nil, 0)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_REQUEST", errorCode(t, w))
	})

	t.Run("engine failure", func(t *testing.T) {
		env := newTestEnv()
		env.ranker.On("Rank", mock.Anything, mock.Anything).
			Return(nil, errors.New("catalog unavailable")).Once()

		w := env.do(t, http.MethodGet, "/api/v1/recommendations/guest", nil, 0)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "RECOMMENDATION_GENERATION_FAILED", errorCode(t, w))
	})
}

func TestRecommendationHandler_Rank(t *testing.T) {
	t.Run("returns the full result", func(t *testing.T) {
		env := newTestEnv()
		result := rankedResult(models.ModePersonalized, 5)
		result.EffectiveMode = models.ModeGuestPopular
		result.FallbackReasons = []string{"no_snapshot"}

		env.ranker.On("Rank", mock.Anything, mock.MatchedBy(func(r *models.RankingRequest) bool {
			return r.Mode == models.ModePersonalized && r.Limit == 4 && *r.UserID == 3
		})).Return(result, nil).Once()

		w := env.do(t, http.MethodPost, "/api/v1/recommendations/rank",
			[]byte(`{"mode":"personalized","limit":4}`), 3)

		require.Equal(t, http.StatusOK, w.Code)
		var body struct {
			Status string              `json:"status"`
			Data   models.RankedResult `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, models.ModeGuestPopular, body.Data.EffectiveMode)
		assert.Equal(t, []string{"no_snapshot"}, body.Data.FallbackReasons)
		env.ranker.AssertExpectations(t)
	})

	t.Run("body cannot claim a user", func(t *testing.T) {
		env := newTestEnv()
		env.ranker.On("Rank", mock.Anything, mock.MatchedBy(func(r *models.RankingRequest) bool {
			return r.UserID == nil
		})).Return(rankedResult(models.ModeGuestPopular), nil).Once()

		w := env.do(t, http.MethodPost, "/api/v1/recommendations/rank",
			[]byte(`{"mode":"guest_popular","limit":4,"UserID":99}`), 0)

		require.Equal(t, http.StatusOK, w.Code)
		env.ranker.AssertExpectations(t)
	})

	tests := []struct {
		name string
		body string
		code string
	}{
		{name: "malformed json", body: `{"mode":`, code: "INVALID_REQUEST_BODY"},
		{name: "unknown mode", body: `{"mode":"trending","limit":4}`, code: "INVALID_REQUEST"},
		{name: "missing limit", body: `{"mode":"guest_popular"}`, code: "INVALID_REQUEST"},
		{name: "limit too large", body: `{"mode":"guest_popular","limit":1000}`, code: "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			w := env.do(t, http.MethodPost, "/api/v1/recommendations/rank", []byte(tt.body), 0)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.code, errorCode(t, w))
			env.ranker.AssertNotCalled(t, "Rank", mock.Anything, mock.Anything)
		})
	}
}
