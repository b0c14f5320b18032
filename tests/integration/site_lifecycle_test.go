package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/valentine/backend/internal/config"
	"github.com/MarcoPoloResearchLab/valentine/backend/internal/database"
	"github.com/MarcoPoloResearchLab/valentine/backend/internal/ratelimit"
	"github.com/MarcoPoloResearchLab/valentine/backend/internal/server"
	"github.com/MarcoPoloResearchLab/valentine/backend/internal/sites"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const jsonContentType = "application/json"

func TestCreateAndLifecycleFlow(testContext *testing.T) {
	gin.SetMode(gin.TestMode)

	databasePath := testContext.TempDir() + "/valentine.db"
	db, err := database.OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}

	sitesService, err := sites.NewService(sites.ServiceConfig{
		Database:   db,
		IDProvider: sites.NewNanoIDProvider(),
		ExpiresAt:  time.Now().Add(24 * time.Hour),
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build sites service: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sites:       sitesService,
		Limiter:     ratelimit.New(ratelimit.Config{Limit: 10}),
		Domain:      "localhost:5173",
		PayloadMode: config.PayloadModePlain,
		Logger:      zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	defer testServer.Close()

	createRequest := map[string]any{
		"creator_name": "Ana",
		"partner_name": "Leo",
		"love_message": "I love you",
		"reasons":      []string{"your laugh"},
		"song_url":     "https://youtu.be/abc123",
	}
	createBody, err := json.Marshal(createRequest)
	if err != nil {
		testContext.Fatalf("failed to encode create request: %v", err)
	}

	createResponse, err := http.Post(testServer.URL+"/api/sites", jsonContentType, bytes.NewReader(createBody))
	if err != nil {
		testContext.Fatalf("create request failed: %v", err)
	}
	defer createResponse.Body.Close()
	if createResponse.StatusCode != http.StatusCreated {
		testContext.Fatalf("expected 201, got %d", createResponse.StatusCode)
	}

	var created struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.NewDecoder(createResponse.Body).Decode(&created); err != nil {
		testContext.Fatalf("failed to decode create response: %v", err)
	}
	if len(created.ID) != 8 {
		testContext.Fatalf("expected 8-character id, got %q", created.ID)
	}
	if created.URL != "http://localhost:5173/v/"+created.ID {
		testContext.Fatalf("unexpected access url: %q", created.URL)
	}

	viewResponse, err := http.Post(fmt.Sprintf("%s/api/sites/%s/view", testServer.URL, created.ID), jsonContentType, http.NoBody)
	if err != nil {
		testContext.Fatalf("view request failed: %v", err)
	}
	viewResponse.Body.Close()
	if viewResponse.StatusCode != http.StatusOK {
		testContext.Fatalf("expected 200 for view, got %d", viewResponse.StatusCode)
	}

	acceptResponse, err := http.Post(fmt.Sprintf("%s/api/sites/%s/accept", testServer.URL, created.ID), jsonContentType, http.NoBody)
	if err != nil {
		testContext.Fatalf("accept request failed: %v", err)
	}
	acceptResponse.Body.Close()
	if acceptResponse.StatusCode != http.StatusOK {
		testContext.Fatalf("expected 200 for accept, got %d", acceptResponse.StatusCode)
	}

	fetchResponse, err := http.Get(fmt.Sprintf("%s/api/sites/%s", testServer.URL, created.ID))
	if err != nil {
		testContext.Fatalf("fetch request failed: %v", err)
	}
	defer fetchResponse.Body.Close()
	if fetchResponse.StatusCode != http.StatusOK {
		testContext.Fatalf("expected 200 for fetch, got %d", fetchResponse.StatusCode)
	}

	var fetched struct {
		ID        string   `json:"id"`
		Reasons   []string `json:"reasons"`
		SongURL   string   `json:"song_url"`
		ViewCount int64    `json:"view_count"`
		Accepted  bool     `json:"accepted"`
	}
	if err := json.NewDecoder(fetchResponse.Body).Decode(&fetched); err != nil {
		testContext.Fatalf("failed to decode fetch response: %v", err)
	}
	if fetched.ID != created.ID {
		testContext.Fatalf("fetched wrong site: %q", fetched.ID)
	}
	if fetched.ViewCount != 1 {
		testContext.Fatalf("expected view count 1, got %d", fetched.ViewCount)
	}
	if !fetched.Accepted {
		testContext.Fatalf("expected site to be accepted")
	}
	if len(fetched.Reasons) != 1 || fetched.Reasons[0] != "your laugh" {
		testContext.Fatalf("unexpected reasons: %v", fetched.Reasons)
	}
	if fetched.SongURL != "https://youtu.be/abc123" {
		testContext.Fatalf("unexpected song url: %q", fetched.SongURL)
	}

	healthResponse, err := http.Get(testServer.URL + "/api/health")
	if err != nil {
		testContext.Fatalf("health request failed: %v", err)
	}
	defer healthResponse.Body.Close()
	if healthResponse.StatusCode != http.StatusOK {
		testContext.Fatalf("expected 200 for health, got %d", healthResponse.StatusCode)
	}
	var health struct {
		Status   string `json:"status"`
		Database bool   `json:"database"`
	}
	if err := json.NewDecoder(healthResponse.Body).Decode(&health); err != nil {
		testContext.Fatalf("failed to decode health response: %v", err)
	}
	if health.Status != "ok" || !health.Database {
		testContext.Fatalf("unexpected health report: %+v", health)
	}
}
