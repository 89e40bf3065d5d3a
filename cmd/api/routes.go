package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"facetrack/internal/attendance"
	"facetrack/internal/auth"
	"facetrack/internal/calendar"
	"facetrack/internal/cloudinary"
	"facetrack/internal/config"
	"facetrack/internal/httpmiddleware"
	"facetrack/internal/policy"
	"facetrack/internal/queue"
	"facetrack/internal/roster"
	"facetrack/internal/schedule"
	"facetrack/internal/store"
)

// deviceStore is the slice of the device repository the handlers need.
type deviceStore interface {
	Upsert(ctx context.Context, deviceID string) error
	SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error
	RevokeRefreshToken(ctx context.Context, token string) error
	ValidRefreshToken(ctx context.Context, deviceID, token string) (bool, error)
}

type server struct {
	cfg   config.App
	log   *zap.Logger
	db    *store.DB
	redis *store.Redis
	queue queue.Queue
	cache *store.Cache

	schedules *schedule.Repository
	policies  *policy.Repository
	members   *roster.Repository
	events    *attendance.Repository
	devices   deviceStore
	engine    *attendance.Engine
	cdn       *cloudinary.Client
}

func (s *server) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:          24 * time.Hour,
	}))
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(s.cfg.RateLimitPerMin, s.cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", s.healthz)

	r.POST("/v1/devices/register", s.registerDevice)
	r.POST("/v1/devices/refresh", s.refreshDevice)

	v1 := r.Group("/v1", auth.DeviceAuth(s.cfg.JWTSigningKey, s.cfg.JWTIssuer))

	v1.POST("/detections", s.submitDetection)
	v1.POST("/upload", s.upload)

	v1.GET("/schedules/week", s.weekSchedule)
	v1.POST("/schedules", s.createSchedule)
	v1.GET("/schedules", s.listSchedules)
	v1.GET("/schedules/:id", s.getSchedule)
	v1.PUT("/schedules/:id", s.updateSchedule)
	v1.DELETE("/schedules/:id", s.deleteSchedule)
	v1.GET("/schedules/:id/attendance", s.scheduleAttendance)
	v1.GET("/schedules/:id/stats", s.scheduleStats)

	v1.GET("/stats/range", s.rangeStats)
	v1.GET("/members/:id/stats", s.memberStats)

	v1.GET("/settings/time", s.getTimeSettings)
	v1.PUT("/settings/time", s.setTimeSettings)

	v1.GET("/events", s.listEvents)
	v1.GET("/groups", s.listGroups)
	v1.GET("/groups/:id/members", s.groupMembers)

	return r
}

func (s *server) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	dbHealthy := s.db.Client.PingContext(ctx) == nil
	redisHealthy := s.redis.Healthy(ctx)
	status := http.StatusOK
	if !dbHealthy || !redisHealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"status": "ok", "db": dbHealthy, "redis": redisHealthy})
}

func (s *server) registerDevice(c *gin.Context) {
	var req struct {
		DeviceID string `json:"device_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.devices.Upsert(c.Request.Context(), req.DeviceID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "device registration failed"})
		return
	}

	tokens, err := auth.Issue(req.DeviceID, s.cfg.JWTIssuer, s.cfg.JWTSigningKey, s.cfg.AccessTTL, s.cfg.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	if err := s.devices.SaveRefreshToken(c.Request.Context(), req.DeviceID, tokens.RefreshToken, tokens.RefreshExp); err != nil {
		s.log.Warn("save refresh token failed", zap.Error(err))
	}

	c.JSON(http.StatusCreated, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

func (s *server) refreshDevice(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, err := auth.Parse(req.RefreshToken, s.cfg.JWTSigningKey, s.cfg.JWTIssuer)
	if err != nil || claims.Kind != "refresh" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	// A valid signature is not enough: rotation means a token that was
	// already exchanged (or revoked) must stop working before JWT expiry.
	valid, err := s.devices.ValidRefreshToken(c.Request.Context(), claims.DeviceID, req.RefreshToken)
	if err != nil {
		s.log.Error("refresh token lookup failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "token store unavailable"})
		return
	}
	if !valid {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}

	tokens, err := auth.Issue(claims.DeviceID, s.cfg.JWTIssuer, s.cfg.JWTSigningKey, s.cfg.AccessTTL, s.cfg.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	if err := s.devices.RevokeRefreshToken(c.Request.Context(), req.RefreshToken); err != nil {
		s.log.Error("refresh token revoke failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "token store unavailable"})
		return
	}
	if err := s.devices.SaveRefreshToken(c.Request.Context(), claims.DeviceID, tokens.RefreshToken, tokens.RefreshExp); err != nil {
		s.log.Warn("save refresh token failed", zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

// submitDetection enqueues a raw sighting for the recognition worker. The
// API never blocks on face search; acceptance happens asynchronously.
func (s *server) submitDetection(c *gin.Context) {
	var req struct {
		ImageURL   string `json:"image_url" binding:"required"`
		OccurredAt string `json:"occurred_at"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	occurredAt := time.Now().UTC()
	if req.OccurredAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.OccurredAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "occurred_at must be RFC3339"})
			return
		}
		occurredAt = parsed.UTC()
	}

	job := queue.DetectionJob{
		DeviceID:   c.GetString(auth.ContextDeviceID),
		ImageURL:   req.ImageURL,
		OccurredAt: occurredAt,
	}
	body, _ := json.Marshal(job)
	if err := s.queue.Publish(c.Request.Context(), queue.Message{Type: queue.TypeDetection, Body: body}); err != nil {
		s.log.Error("queue publish failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "detection queue unavailable"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true, "occurred_at": occurredAt})
}

func (s *server) upload(c *gin.Context) {
	if s.cdn == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "image storage not configured"})
		return
	}

	var result *cloudinary.UploadResult
	var err error
	switch {
	case strings.Contains(c.ContentType(), "multipart/form-data"):
		file, header, ferr := c.Request.FormFile("file")
		if ferr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
			return
		}
		defer file.Close()
		data, ferr := io.ReadAll(file)
		if ferr != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "read file failed"})
			return
		}
		result, err = s.cdn.UploadBytes(data, header.Filename)
	default:
		var body struct {
			Data string `json:"data" binding:"required"`
		}
		if berr := c.ShouldBindJSON(&body); berr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "provide {\"data\": \"<base64 data URL>\"}"})
			return
		}
		result, err = s.cdn.UploadBase64(body.Data)
	}
	if err != nil {
		s.log.Error("image upload failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "image upload failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"url":       result.SecureURL,
		"public_id": result.PublicID,
		"width":     result.Width,
		"height":    result.Height,
		"bytes":     result.Bytes,
	})
}

// weekSchedule resolves one ISO week of occurrences. Defaults to the
// current week; past weeks are immutable and cached aggressively.
func (s *server) weekSchedule(c *gin.Context) {
	today := calendar.Midnight(time.Now().UTC())
	year, week := calendar.ISOWeekOf(today)
	if v := c.Query("year"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "year must be an integer"})
			return
		}
		year = parsed
	}
	if v := c.Query("week"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "week must be an integer"})
			return
		}
		week = parsed
	}
	groupID, ok := optionalGroupID(c)
	if !ok {
		return
	}

	cacheKey := "week:" + strconv.Itoa(year) + ":" + strconv.Itoa(week)
	if groupID != nil {
		cacheKey += ":g" + strconv.FormatInt(*groupID, 10)
	}
	if cached := s.cache.Get(c.Request.Context(), cacheKey); cached != nil {
		c.Data(http.StatusOK, "application/json", cached)
		return
	}

	days, err := s.engine.ResolveWeek(c.Request.Context(), year, week, groupID)
	if err != nil {
		if errors.Is(err, attendance.ErrWeekOutOfRange) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.log.Error("resolve week failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "schedule source unavailable"})
		return
	}

	payload, _ := json.Marshal(gin.H{"year": year, "week": week, "days": days})
	ttl := 30 * time.Second
	if calendar.DatesOfWeek(year, week)[6].Before(today) {
		ttl = 24 * time.Hour
	}
	s.cache.Set(c.Request.Context(), cacheKey, payload, ttl)
	c.Data(http.StatusOK, "application/json", payload)
}

func (s *server) createSchedule(c *gin.Context) {
	var def schedule.Definition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := def.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	created, err := s.schedules.Create(c.Request.Context(), def)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create schedule failed"})
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *server) listSchedules(c *gin.Context) {
	var (
		defs []schedule.Definition
		err  error
	)
	if c.Query("active") == "true" {
		defs, err = s.schedules.Active(c.Request.Context())
	} else {
		defs, err = s.schedules.List(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list schedules failed"})
		return
	}
	if defs == nil {
		defs = []schedule.Definition{}
	}
	c.JSON(http.StatusOK, gin.H{"schedules": defs})
}

func (s *server) getSchedule(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	def, err := s.schedules.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get schedule failed"})
		return
	}
	if def == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
		return
	}
	c.JSON(http.StatusOK, def)
}

func (s *server) updateSchedule(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var def schedule.Definition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	def.ID = id
	if err := def.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	updated, err := s.schedules.Update(c.Request.Context(), def)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update schedule failed"})
		return
	}
	if updated == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *server) deleteSchedule(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	deleted, err := s.schedules.Delete(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete schedule failed"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) scheduleAttendance(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	date, ok := queryDate(c, "date", calendar.Midnight(time.Now().UTC()))
	if !ok {
		return
	}
	results, err := s.engine.ClassifyOccurrence(c.Request.Context(), id, date)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "classify failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"schedule_id": id,
		"date":        date.Format("2006-01-02"),
		"results":     results,
	})
}

func (s *server) scheduleStats(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	date, ok := queryDate(c, "date", calendar.Midnight(time.Now().UTC()))
	if !ok {
		return
	}
	stats, err := s.engine.StatsFor(c.Request.Context(), id, date)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats failed"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *server) rangeStats(c *gin.Context) {
	from, ok := queryDate(c, "from", time.Time{})
	if !ok {
		return
	}
	to, ok := queryDate(c, "to", time.Time{})
	if !ok {
		return
	}
	if from.IsZero() || to.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from and to are required (YYYY-MM-DD)"})
		return
	}
	groupID, ok := optionalGroupID(c)
	if !ok {
		return
	}
	stats, err := s.engine.StatsForRange(c.Request.Context(), from, to, groupID)
	if err != nil {
		if errors.Is(err, attendance.ErrInvalidRange) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.log.Error("range stats failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stats source unavailable"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *server) memberStats(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	days := 30
	if v := c.Query("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 366 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be between 1 and 366"})
			return
		}
		days = parsed
	}
	to := calendar.Midnight(time.Now().UTC())
	from := to.AddDate(0, 0, -(days - 1))
	stats, err := s.engine.MemberStats(c.Request.Context(), id, from, to)
	if err != nil {
		s.log.Error("member stats failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stats source unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"member_id": id,
		"from":      from.Format("2006-01-02"),
		"to":        to.Format("2006-01-02"),
		"stats":     stats,
	})
}

func (s *server) getTimeSettings(c *gin.Context) {
	current, err := s.policies.Current(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load settings failed"})
		return
	}
	history, err := s.policies.History(c.Request.Context(), 20)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load settings failed"})
		return
	}
	if history == nil {
		history = []policy.Setting{}
	}
	c.JSON(http.StatusOK, gin.H{"current": current, "history": history})
}

func (s *server) setTimeSettings(c *gin.Context) {
	var req policy.Policy
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.LateThresholdMinutes < 0 || req.DuplicateCheckMinutes < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "minutes must not be negative"})
		return
	}
	setting, err := s.policies.Set(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save settings failed"})
		return
	}
	c.JSON(http.StatusCreated, setting)
}

func (s *server) listEvents(c *gin.Context) {
	var memberID *int64
	if v := c.Query("member_id"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "member_id must be an integer"})
			return
		}
		memberID = &parsed
	}
	limit, offset := 50, 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	events, err := s.events.ListRecent(c.Request.Context(), memberID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list events failed"})
		return
	}
	if events == nil {
		events = []attendance.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *server) listGroups(c *gin.Context) {
	groups, err := s.members.Groups(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list groups failed"})
		return
	}
	if groups == nil {
		groups = []roster.Group{}
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

func (s *server) groupMembers(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	members, err := s.members.MembersOf(c.Request.Context(), &id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list members failed"})
		return
	}
	if members == nil {
		members = []roster.Member{}
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
		return 0, false
	}
	return id, true
}

func queryDate(c *gin.Context, name string, fallback time.Time) (time.Time, bool) {
	v := c.Query(name)
	if v == "" {
		return fallback, true
	}
	parsed, err := time.Parse("2006-01-02", v)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be YYYY-MM-DD"})
		return time.Time{}, false
	}
	return parsed, true
}

func optionalGroupID(c *gin.Context) (*int64, bool) {
	v := c.Query("group_id")
	if v == "" {
		return nil, true
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil || parsed < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "group_id must be a positive integer"})
		return nil, false
	}
	return &parsed, true
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
