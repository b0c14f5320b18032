package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/valentine/backend/internal/config"
	"github.com/MarcoPoloResearchLab/valentine/backend/internal/ratelimit"
	"github.com/MarcoPoloResearchLab/valentine/backend/internal/sites"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type handlerFixture struct {
	handler http.Handler
	service *sites.Service
	now     time.Time
}

type fixtureOptions struct {
	domain      string
	payloadMode config.PayloadMode
	rateLimit   int
	expiresAt   time.Time
}

func newHandlerFixture(t *testing.T, opts fixtureOptions) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	databasePath := filepath.Join(t.TempDir(), "server.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&sites.Site{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	fixture := &handlerFixture{now: time.Date(2026, time.February, 10, 12, 0, 0, 0, time.UTC)}

	expiresAt := opts.expiresAt
	if expiresAt.IsZero() {
		expiresAt = time.Date(2026, time.February, 15, 23, 59, 59, 0, time.UTC)
	}
	service, err := sites.NewService(sites.ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return fixture.now },
		IDProvider: sites.NewNanoIDProvider(),
		ExpiresAt:  expiresAt,
	})
	if err != nil {
		t.Fatalf("failed to create sites service: %v", err)
	}
	fixture.service = service

	rateLimit := opts.rateLimit
	if rateLimit == 0 {
		rateLimit = 100
	}
	limiter := ratelimit.New(ratelimit.Config{
		Limit: rateLimit,
		Clock: func() time.Time { return fixture.now },
	})

	domain := opts.domain
	if domain == "" {
		domain = "localhost:5173"
	}

	handler, err := NewHTTPHandler(Dependencies{
		Sites:       service,
		Limiter:     limiter,
		Domain:      domain,
		PayloadMode: opts.payloadMode,
		Clock:       func() time.Time { return fixture.now },
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	fixture.handler = handler
	return fixture
}

func (f *handlerFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != "" {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	return recorder
}
