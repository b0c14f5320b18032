package server

import (
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/valentine/backend/internal/config"
	"github.com/MarcoPoloResearchLab/valentine/backend/internal/ratelimit"
	"github.com/MarcoPoloResearchLab/valentine/backend/internal/sites"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errMissingSitesService = errors.New("sites service dependency required")
	errMissingLimiter      = errors.New("rate limiter dependency required")
	errMissingDomain       = errors.New("public domain required")
)

// unknownClientKey stands in when the client network address is unavailable.
const unknownClientKey = "unknown"

// Dependencies wires the orchestrator to its collaborators.
type Dependencies struct {
	Sites       *sites.Service
	Limiter     *ratelimit.Limiter
	Domain      string
	CORSOrigins []string
	PayloadMode config.PayloadMode
	Clock       func() time.Time
	Logger      *zap.Logger
}

// NewHTTPHandler builds the gin router serving the valentine API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sites == nil {
		return nil, errMissingSitesService
	}
	if deps.Limiter == nil {
		return nil, errMissingLimiter
	}
	if strings.TrimSpace(deps.Domain) == "" {
		return nil, errMissingDomain
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	payloadMode := deps.PayloadMode
	if payloadMode == "" {
		payloadMode = config.PayloadModePlain
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware(deps.CORSOrigins))

	handler := &httpHandler{
		sites:       deps.Sites,
		limiter:     deps.Limiter,
		domain:      deps.Domain,
		payloadMode: payloadMode,
		clock:       clock,
		logger:      logger,
	}

	api := router.Group("/api")
	api.POST("/sites", handler.handleCreateSite)
	api.GET("/sites/:id", handler.handleGetSite)
	api.POST("/sites/:id/view", handler.handleRecordView)
	api.POST("/sites/:id/accept", handler.handleAcceptSite)
	api.GET("/health", handler.handleHealth)

	return router, nil
}

type httpHandler struct {
	sites       *sites.Service
	limiter     *ratelimit.Limiter
	domain      string
	payloadMode config.PayloadMode
	clock       func() time.Time
	logger      *zap.Logger
}

type siteCreatedPayload struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (h *httpHandler) handleCreateSite(c *gin.Context) {
	var create func(*gin.Context) (string, error)
	switch h.payloadMode {
	case config.PayloadModeEncrypted:
		create = h.createEncrypted
	default:
		create = h.createPlain
	}

	id, err := create(c)
	if err != nil {
		// createPlain/createEncrypted have already written the response.
		return
	}

	c.JSON(http.StatusCreated, siteCreatedPayload{
		ID:  id,
		URL: buildSiteURL(h.domain, id),
	})
}

func (h *httpHandler) createPlain(c *gin.Context) (string, error) {
	var payload sites.PlainPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return "", err
	}
	if err := payload.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload", "detail": err.Error()})
		return "", err
	}
	if err := h.checkRateLimit(c); err != nil {
		return "", err
	}

	id, err := h.sites.CreatePlain(c.Request.Context(), payload)
	if err != nil {
		h.logger.Error("failed to create site", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed", "code": serviceErrorCode(err)})
		return "", err
	}
	return id, nil
}

func (h *httpHandler) createEncrypted(c *gin.Context) (string, error) {
	var payload sites.EncryptedPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return "", err
	}
	if err := payload.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload", "detail": err.Error()})
		return "", err
	}
	if err := h.checkRateLimit(c); err != nil {
		return "", err
	}

	id, err := h.sites.CreateEncrypted(c.Request.Context(), payload)
	if err != nil {
		h.logger.Error("failed to create site", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed", "code": serviceErrorCode(err)})
		return "", err
	}
	return id, nil
}

var errRateLimited = errors.New("rate limited")

func (h *httpHandler) checkRateLimit(c *gin.Context) error {
	clientKey := c.ClientIP()
	if clientKey == "" {
		clientKey = unknownClientKey
	}
	if h.limiter.Allow(clientKey) {
		return nil
	}

	retryAfter := int(math.Ceil(h.limiter.RetryAfter(clientKey).Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	h.logger.Warn("create rate limited", zap.String("client_key", clientKey))
	c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
	c.JSON(http.StatusTooManyRequests, gin.H{
		"error":               "rate_limited",
		"retry_after_seconds": retryAfter,
	})
	return errRateLimited
}

type sitePayload struct {
	ID             string   `json:"id"`
	CreatorName    string   `json:"creator_name,omitempty"`
	PartnerName    string   `json:"partner_name,omitempty"`
	LoveMessage    string   `json:"love_message,omitempty"`
	PhotoBase64    string   `json:"photo_base64,omitempty"`
	PhotoCaption   string   `json:"photo_caption,omitempty"`
	HowWeMet       string   `json:"how_we_met,omitempty"`
	FavoriteMemory string   `json:"favorite_memory,omitempty"`
	Reasons        []string `json:"reasons,omitempty"`
	SongURL        string   `json:"song_url,omitempty"`
	PetName        string   `json:"pet_name,omitempty"`
	SecretMessage  string   `json:"secret_message,omitempty"`
	EncryptedData  string   `json:"encrypted_data,omitempty"`
	IV             string   `json:"iv,omitempty"`
	ViewCount      int64    `json:"view_count"`
	Accepted       bool     `json:"accepted"`
}

func (h *httpHandler) handleGetSite(c *gin.Context) {
	id := c.Param("id")

	site, err := h.sites.Get(c.Request.Context(), id)
	if errors.Is(err, sites.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load site", zap.String("site_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "fetch_failed", "code": serviceErrorCode(err)})
		return
	}

	// Expired records still exist until purged but are dead to every reader.
	if site.Expired(h.clock()) {
		c.JSON(http.StatusGone, gin.H{"error": "expired"})
		return
	}

	response := sitePayload{
		ID:        site.ID,
		ViewCount: site.ViewCount,
		Accepted:  site.Accepted(),
	}
	switch site.PayloadKind {
	case sites.PayloadKindEncrypted:
		response.EncryptedData = site.EncryptedData
		response.IV = site.IV
	default:
		reasons, err := site.Reasons()
		if err != nil {
			h.logger.Error("failed to decode site reasons", zap.String("site_id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "fetch_failed"})
			return
		}
		response.CreatorName = site.CreatorName
		response.PartnerName = site.PartnerName
		response.LoveMessage = site.LoveMessage
		response.PhotoBase64 = site.PhotoBase64
		response.PhotoCaption = site.PhotoCaption
		response.HowWeMet = site.HowWeMet
		response.FavoriteMemory = site.FavoriteMemory
		response.Reasons = reasons
		response.SongURL = site.SongURL
		response.PetName = site.PetName
		response.SecretMessage = site.SecretMessage
	}

	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleRecordView(c *gin.Context) {
	id := c.Param("id")

	err := h.sites.RecordView(c.Request.Context(), id)
	if errors.Is(err, sites.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to record view", zap.String("site_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "view_failed", "code": serviceErrorCode(err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handleAcceptSite(c *gin.Context) {
	id := c.Param("id")

	err := h.sites.MarkAccepted(c.Request.Context(), id)
	if errors.Is(err, sites.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to accept site", zap.String("site_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "accept_failed", "code": serviceErrorCode(err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleHealth always answers 200; storage reachability is reported in the
// body so monitoring can tell "service down" from "storage down".
func (h *httpHandler) handleHealth(c *gin.Context) {
	databaseUp := true
	if err := h.sites.Ping(c.Request.Context()); err != nil {
		h.logger.Warn("storage unreachable", zap.Error(err))
		databaseUp = false
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "database": databaseUp})
}

// buildSiteURL derives the shareable access URL for a site id. Local
// development hosts get plain http; everything else is https.
func buildSiteURL(domain, id string) string {
	scheme := "https"
	if isLocalDomain(domain) {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s/v/%s", scheme, domain, id)
}

func isLocalDomain(domain string) bool {
	host := domain
	if splitHost, _, err := net.SplitHostPort(domain); err == nil {
		host = splitHost
	}
	switch strings.ToLower(host) {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

func serviceErrorCode(err error) string {
	var serviceError *sites.ServiceError
	if errors.As(err, &serviceError) {
		return serviceError.Code()
	}
	return "internal_error"
}
