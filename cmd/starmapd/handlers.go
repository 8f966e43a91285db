package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/astral-systems/starmap/entitymgr"
	"github.com/astral-systems/starmap/models"
	"github.com/astral-systems/starmap/tablestore"

	"github.com/carlmjohnson/versioninfo"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const maxBatchSize = 50

type GenericError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// starView is the wire shape of a star; brightness is recomputed from the
// decay curve at render time rather than returned as stored.
type starView struct {
	ID         string  `json:"id"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Message    string  `json:"message"`
	Brightness float64 `json:"brightness"`
	LastLiked  float64 `json:"last_liked"`
}

type starDetail struct {
	starView
	IsPopular bool `json:"is_popular"`
}

func viewFromStar(star *models.Star, now time.Time) starView {
	return starView{
		ID:         star.ID,
		X:          star.X,
		Y:          star.Y,
		Message:    star.Message,
		Brightness: star.CurrentBrightness(now),
		LastLiked:  star.LastLiked,
	}
}

// clientID keys the per-client admission buckets
func clientID(c echo.Context) string {
	return c.RealIP()
}

func respondError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, entitymgr.ErrRateLimited):
		return c.JSON(http.StatusTooManyRequests, GenericError{
			Error:   "RateLimited",
			Message: "too many requests, slow down",
		})
	case errors.Is(err, tablestore.ErrNotFound):
		return c.JSON(http.StatusNotFound, GenericError{
			Error:   "NotFound",
			Message: err.Error(),
		})
	case errors.Is(err, models.ErrUnknownEntityType):
		return c.JSON(http.StatusBadRequest, GenericError{
			Error:   "BadRequest",
			Message: err.Error(),
		})
	case errors.Is(err, tablestore.ErrUnavailable):
		return c.JSON(http.StatusServiceUnavailable, GenericError{
			Error:   "StoreUnavailable",
			Message: err.Error(),
		})
	default:
		return c.JSON(http.StatusInternalServerError, GenericError{
			Error:   "InternalServerError",
			Message: err.Error(),
		})
	}
}

func (srv *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	var errorMessage string
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		errorMessage = fmt.Sprintf("%s", he.Message)
	}
	if code >= 500 {
		srv.logger.Warn("starmapd-http-internal-error", "err", err)
	}
	c.JSON(code, GenericError{Error: "error", Message: errorMessage})
}

// GET /stars
func (srv *Server) HandleListStars(c echo.Context) error {
	return srv.listStars(c, "stars", func(star *models.Star) bool { return true })
}

// GET /stars/active
func (srv *Server) HandleActiveStars(c echo.Context) error {
	cutoff := float64(time.Now().UTC().Unix()) - srv.popularityWindow.Seconds()
	return srv.listStars(c, "stars/active", func(star *models.Star) bool {
		return star.LastLiked >= cutoff
	})
}

func (srv *Server) listStars(c echo.Context, cacheKey string, keep func(*models.Star) bool) error {
	ctx := c.Request().Context()

	if blob, ok := srv.listCache.Get(cacheKey); ok {
		listCacheHits.Inc()
		return c.JSONBlob(http.StatusOK, blob)
	}
	listCacheMisses.Inc()

	recs, err := srv.mgr.HandleList(ctx, models.EntityTypeStar, tablestore.ListFilter{})
	if err != nil {
		return respondError(c, err)
	}

	now := time.Now()
	views := make([]starView, 0, len(recs))
	for _, rec := range recs {
		var star models.Star
		if err := json.Unmarshal(rec.Data, &star); err != nil {
			srv.logger.Warn("skipping corrupt star record", "id", rec.ID, "err", err)
			continue
		}
		if keep(&star) {
			views = append(views, viewFromStar(&star, now))
		}
	}

	blob, err := json.Marshal(views)
	if err != nil {
		return respondError(c, err)
	}
	srv.listCache.Add(cacheKey, blob)
	return c.JSONBlob(http.StatusOK, blob)
}

// GET /stars/popular
func (srv *Server) HandlePopularStars(c echo.Context) error {
	ctx := c.Request().Context()

	recs, err := srv.mgr.HandleList(ctx, models.EntityTypeStar, tablestore.ListFilter{})
	if err != nil {
		return respondError(c, err)
	}

	now := time.Now()
	popular := make([]starDetail, 0)
	for _, rec := range recs {
		if !srv.mgr.Popular(ctx, models.EntityTypeStar, rec.ID) {
			continue
		}
		var star models.Star
		if err := json.Unmarshal(rec.Data, &star); err != nil {
			srv.logger.Warn("skipping corrupt star record", "id", rec.ID, "err", err)
			continue
		}
		popular = append(popular, starDetail{
			starView:  viewFromStar(&star, now),
			IsPopular: true,
		})
	}
	return c.JSON(http.StatusOK, popular)
}

// GET /stars/batch/:ids
func (srv *Server) HandleBatchStars(c echo.Context) error {
	ctx := c.Request().Context()

	ids := strings.Split(c.Param("ids"), ",")
	if len(ids) > maxBatchSize {
		return c.JSON(http.StatusBadRequest, GenericError{
			Error:   "BadRequest",
			Message: fmt.Sprintf("batch size exceeds limit of %d", maxBatchSize),
		})
	}

	now := time.Now()
	views := make([]starView, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		data, err := srv.mgr.HandleRead(ctx, clientID(c), models.EntityTypeStar, id)
		if errors.Is(err, tablestore.ErrNotFound) {
			continue
		} else if err != nil {
			return respondError(c, err)
		}
		var star models.Star
		if err := json.Unmarshal(data, &star); err != nil {
			srv.logger.Warn("skipping corrupt star record", "id", id, "err", err)
			continue
		}
		views = append(views, viewFromStar(&star, now))
	}
	return c.JSON(http.StatusOK, views)
}

// GET /stars/:id
func (srv *Server) HandleGetStar(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	data, err := srv.mgr.HandleRead(ctx, clientID(c), models.EntityTypeStar, id)
	if err != nil {
		return respondError(c, err)
	}
	var star models.Star
	if err := json.Unmarshal(data, &star); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, starDetail{
		starView:  viewFromStar(&star, time.Now()),
		IsPopular: srv.mgr.Popular(ctx, models.EntityTypeStar, id),
	})
}

// POST /stars
func (srv *Server) HandleCreateStar(c echo.Context) error {
	ctx := c.Request().Context()

	var star models.Star
	if err := c.Bind(&star); err != nil {
		return c.JSON(http.StatusBadRequest, GenericError{
			Error:   "BadRequest",
			Message: "invalid star payload",
		})
	}
	if err := star.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, GenericError{
			Error:   "InvalidStar",
			Message: err.Error(),
		})
	}

	// the id goes into the serialized payload, so it has to be assigned
	// before the write rather than by the store
	if star.ID == "" {
		star.ID = uuid.New().String()
	}
	now := float64(time.Now().UTC().Unix())
	if star.Brightness == 0 {
		star.Brightness = models.DefaultBrightness
	}
	star.LastLiked = now
	star.CreatedAt = now

	data, err := json.Marshal(&star)
	if err != nil {
		return respondError(c, err)
	}
	if _, err := srv.mgr.HandleCreate(ctx, clientID(c), models.EntityTypeStar, star.ID, data); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, viewFromStar(&star, time.Now()))
}

// PUT /stars/:id
func (srv *Server) HandleUpdateStar(c echo.Context) error {
	ctx := c.Request().Context()

	var star models.Star
	if err := c.Bind(&star); err != nil {
		return c.JSON(http.StatusBadRequest, GenericError{
			Error:   "BadRequest",
			Message: "invalid star payload",
		})
	}
	star.ID = c.Param("id")
	if err := star.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, GenericError{
			Error:   "InvalidStar",
			Message: err.Error(),
		})
	}

	data, err := json.Marshal(&star)
	if err != nil {
		return respondError(c, err)
	}
	if _, err := srv.mgr.HandleWrite(ctx, clientID(c), models.EntityTypeStar, star.ID, data); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, viewFromStar(&star, time.Now()))
}

// DELETE /stars/:id
func (srv *Server) HandleDeleteStar(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	if err := srv.mgr.HandleDelete(ctx, clientID(c), models.EntityTypeStar, id); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

// POST /stars/:id/like
func (srv *Server) HandleLikeStar(c echo.Context) error {
	ctx := c.Request().Context()

	star, err := srv.mgr.HandleLike(ctx, clientID(c), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"id":         star.ID,
		"brightness": star.Brightness,
		"last_liked": star.LastLiked,
	})
}

// GET /users
func (srv *Server) HandleListUsers(c echo.Context) error {
	ctx := c.Request().Context()

	recs, err := srv.mgr.HandleList(ctx, models.EntityTypeUser, tablestore.ListFilter{})
	if err != nil {
		return respondError(c, err)
	}
	users := make([]models.User, 0, len(recs))
	for _, rec := range recs {
		var user models.User
		if err := json.Unmarshal(rec.Data, &user); err != nil {
			srv.logger.Warn("skipping corrupt user record", "id", rec.ID, "err", err)
			continue
		}
		users = append(users, user)
	}
	return c.JSON(http.StatusOK, users)
}

// GET /users/:id
func (srv *Server) HandleGetUser(c echo.Context) error {
	ctx := c.Request().Context()

	data, err := srv.mgr.HandleRead(ctx, clientID(c), models.EntityTypeUser, c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	var user models.User
	if err := json.Unmarshal(data, &user); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, user)
}

// POST /users
func (srv *Server) HandleCreateUser(c echo.Context) error {
	ctx := c.Request().Context()

	var user models.User
	if err := c.Bind(&user); err != nil {
		return c.JSON(http.StatusBadRequest, GenericError{
			Error:   "BadRequest",
			Message: "invalid user payload",
		})
	}
	if err := user.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, GenericError{
			Error:   "InvalidUser",
			Message: err.Error(),
		})
	}
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.CreatedAt = time.Now().UTC()

	data, err := json.Marshal(&user)
	if err != nil {
		return respondError(c, err)
	}
	if _, err := srv.mgr.HandleCreate(ctx, clientID(c), models.EntityTypeUser, user.ID, data); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, user)
}

// PUT /users/:id
func (srv *Server) HandleUpdateUser(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	var user models.User
	if err := c.Bind(&user); err != nil {
		return c.JSON(http.StatusBadRequest, GenericError{
			Error:   "BadRequest",
			Message: "invalid user payload",
		})
	}
	user.ID = id
	if err := user.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, GenericError{
			Error:   "InvalidUser",
			Message: err.Error(),
		})
	}

	data, err := json.Marshal(&user)
	if err != nil {
		return respondError(c, err)
	}
	if _, err := srv.mgr.HandleWrite(ctx, clientID(c), models.EntityTypeUser, id, data); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, user)
}

// DELETE /users/:id
func (srv *Server) HandleDeleteUser(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	if err := srv.mgr.HandleDelete(ctx, clientID(c), models.EntityTypeUser, id); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

type cacheStatsResponse struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
	Backend string  `json:"backend"`
}

// GET /stats/cache
func (srv *Server) HandleCacheStats(c echo.Context) error {
	stats := srv.mgr.CacheStats()
	backend := "memory"
	if srv.redisEnabled {
		backend = "redis"
	}
	return c.JSON(http.StatusOK, cacheStatsResponse{
		Hits:    stats.Hits,
		Misses:  stats.Misses,
		HitRate: stats.HitRate,
		Backend: backend,
	})
}

// GET /health
func (srv *Server) HandleHealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "healthy",
		"version":   versioninfo.Short(),
		"timestamp": float64(time.Now().UTC().Unix()),
	})
}

// GET /health/liveness
func (srv *Server) HandleLiveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "alive",
		"timestamp": float64(time.Now().UTC().Unix()),
	})
}

// GET /health/readiness
func (srv *Server) HandleReadiness(c echo.Context) error {
	ctx := c.Request().Context()

	services := map[string]string{}
	status := http.StatusOK
	overall := "ready"

	if _, err := srv.store.List(ctx, models.EntityTypeUser, tablestore.ListFilter{Limit: 1}); err != nil {
		services["tablestore"] = fmt.Sprintf("unhealthy: %s", err)
		overall = "not_ready"
		status = http.StatusServiceUnavailable
	} else {
		services["tablestore"] = "healthy"
	}

	// the daemon degrades gracefully without redis, so it never fails
	// readiness
	if srv.redisEnabled {
		services["redis"] = "healthy"
	} else {
		services["redis"] = "not configured"
	}

	return c.JSON(status, map[string]any{
		"status":   overall,
		"services": services,
	})
}

func (srv *Server) requireAdminKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if srv.adminAPIKey == "" {
			return c.JSON(http.StatusServiceUnavailable, GenericError{
				Error:   "AdminDisabled",
				Message: "API key authentication is not configured",
			})
		}
		if c.Request().Header.Get("X-API-Key") != srv.adminAPIKey {
			return c.JSON(http.StatusUnauthorized, GenericError{
				Error:   "Unauthorized",
				Message: "invalid API key",
			})
		}
		return next(c)
	}
}

// DELETE /admin/stars
func (srv *Server) HandleRemoveAllStars(c echo.Context) error {
	ctx := c.Request().Context()
	srv.logger.Warn("admin endpoint called: remove all stars")

	count, err := srv.mgr.HandlePurge(ctx, models.EntityTypeStar)
	if err != nil {
		return respondError(c, err)
	}
	srv.listCache.Purge()
	return c.JSON(http.StatusOK, map[string]any{
		"message": fmt.Sprintf("All stars removed (%d total)", count),
		"count":   count,
	})
}

// GET /admin/status
func (srv *Server) HandleAdminStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"admin_configured": true,
		"redis_enabled":    srv.redisEnabled,
		"version":          versioninfo.Short(),
	})
}
