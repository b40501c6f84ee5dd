package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/temcen/hybrec/internal/middleware"
	"github.com/temcen/hybrec/internal/services"
	"github.com/temcen/hybrec/pkg/models"
)

const defaultLimit = 10

type RecommendationHandler struct {
	ranker   services.Ranker
	validate *validator.Validate
	logger   *logrus.Logger
}

func NewRecommendationHandler(ranker services.Ranker, logger *logrus.Logger) *RecommendationHandler {
	return &RecommendationHandler{
		ranker:   ranker,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// Guest serves anonymous recommendations. Example titles take precedence over
// genres; with neither the most popular movies are returned.
func (h *RecommendationHandler) Guest(c *gin.Context) {
	limit, ok := h.limit(c)
	if !ok {
		return
	}

	req := &models.RankingRequest{Mode: models.ModeGuestPopular, Limit: limit}
	if examples := c.QueryArray("examples"); len(examples) > 0 {
		req.Mode = models.ModeGuestExamples
		req.ExampleItems = examples
	} else if genres := listParam(c, "genres"); len(genres) > 0 {
		req.Mode = models.ModeGuestGenres
		req.Genres = genres
	}

	h.respondItems(c, req, "Guest recommendations")
}

func (h *RecommendationHandler) Personalized(c *gin.Context) {
	limit, ok := h.limit(c)
	if !ok {
		return
	}

	req := &models.RankingRequest{Mode: models.ModePersonalized, Limit: limit}
	h.attachUser(c, req)
	h.respondItems(c, req, "Personalized recommendations")
}

func (h *RecommendationHandler) Recent(c *gin.Context) {
	limit, ok := h.limit(c)
	if !ok {
		return
	}
	lastN, ok := intParam(c, "last_n")
	if !ok {
		return
	}

	req := &models.RankingRequest{Mode: models.ModeRecentActivity, Limit: limit}
	if lastN != nil {
		req.RecentSeeds = *lastN
	}
	h.attachUser(c, req)
	h.respondItems(c, req, "Recommendations based on recent activity")
}

// Search accepts an optional bearer token; authenticated searches exclude
// already consumed movies and are re-ranked by affinity.
func (h *RecommendationHandler) Search(c *gin.Context) {
	limit, ok := h.limit(c)
	if !ok {
		return
	}
	minYear, ok := intParam(c, "min_year")
	if !ok {
		return
	}
	maxYear, ok := intParam(c, "max_year")
	if !ok {
		return
	}

	req := &models.RankingRequest{
		Mode:      models.ModeSearch,
		QueryText: c.Query("query"),
		Genres:    listParam(c, "genres"),
		Limit:     limit,
		MinYear:   minYear,
		MaxYear:   maxYear,
	}
	h.attachUser(c, req)
	h.respondItems(c, req, "Search results")
}

// Rank takes an explicit ranking request body and returns the full result,
// including the effective mode and fallback reasons.
func (h *RecommendationHandler) Rank(c *gin.Context) {
	var req models.RankingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_REQUEST_BODY",
				"message": "Invalid request body format",
			},
		})
		return
	}
	h.attachUser(c, &req)

	result, ok := h.rank(c, &req)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, models.Success("Ranking complete", result))
}

func (h *RecommendationHandler) respondItems(c *gin.Context, req *models.RankingRequest, message string) {
	result, ok := h.rank(c, req)
	if !ok {
		return
	}
	items := result.Items
	if items == nil {
		items = []models.RankedItem{}
	}
	c.JSON(http.StatusOK, models.Success(message, items))
}

func (h *RecommendationHandler) rank(c *gin.Context, req *models.RankingRequest) (*models.RankedResult, bool) {
	if err := h.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		details := []string{}
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				details = append(details, fe.Field()+": failed '"+fe.Tag()+"'")
			}
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "Request validation failed",
				"details": details,
			},
		})
		return nil, false
	}

	result, err := h.ranker.Rank(c.Request.Context(), req)
	if err != nil {
		var vErr *services.ValidationError
		if errors.As(err, &vErr) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": gin.H{
					"code":    "INVALID_REQUEST",
					"message": vErr.Error(),
					"field":   vErr.Field,
				},
			})
			return nil, false
		}

		h.logger.WithError(err).WithField("mode", req.Mode).Error("Failed to rank recommendations")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "RECOMMENDATION_GENERATION_FAILED",
				"message": "Failed to generate recommendations",
			},
		})
		return nil, false
	}

	return result, true
}

func (h *RecommendationHandler) attachUser(c *gin.Context, req *models.RankingRequest) {
	if userID, ok := middleware.UserFromContext(c); ok {
		req.UserID = &userID
	}
}

func (h *RecommendationHandler) limit(c *gin.Context) (int, bool) {
	limit, ok := intParam(c, "limit")
	if !ok {
		return 0, false
	}
	if limit == nil {
		return defaultLimit, true
	}
	return *limit, true
}

// intParam parses an optional integer query parameter, writing a 400 on
// malformed input.
func intParam(c *gin.Context, name string) (*int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": name + " must be an integer",
			},
		})
		return nil, false
	}
	return &value, true
}

// listParam accepts both repeated and comma separated values.
func listParam(c *gin.Context, name string) []string {
	var values []string
	for _, raw := range c.QueryArray(name) {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				values = append(values, part)
			}
		}
	}
	return values
}
