package sites

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNotFound indicates no site exists under the requested identifier.
	ErrNotFound = errors.New("sites: site not found")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errIDExhausted       = errors.New("could not generate a unique id")
	noOpLogger           = zap.NewNop()
)

// maxIDAttempts bounds collision retries during create. A collision needs two
// identical 8-character nanoids, so more than one attempt is already unusual.
const maxIDAttempts = 5

// ServiceError carries a machine-readable operation.reason code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew   = "sites.service.new"
	opCreate       = "sites.create"
	opGet          = "sites.get"
	opRecordView   = "sites.record_view"
	opMarkAccepted = "sites.mark_accepted"
	opPurgeExpired = "sites.purge_expired"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues public site identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the site store.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	// ExpiresAt is the deployment-wide cutoff stamped on every new site.
	ExpiresAt time.Time
	Logger    *zap.Logger
}

// Service is the transactional gateway to the sites table. It performs no
// expiry filtering; callers apply the expiry predicate on fetched records.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	expiresAt  time.Time
	logger     *zap.Logger
}

// NewService validates the configuration and constructs the site store.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		expiresAt:  cfg.ExpiresAt,
		logger:     logger,
	}, nil
}

// CreatePlain inserts a site carrying the structured content fields and
// returns its new identifier.
func (s *Service) CreatePlain(ctx context.Context, payload PlainPayload) (string, error) {
	reasonsJSON := ""
	if len(payload.Reasons) > 0 {
		encoded, err := json.Marshal(payload.Reasons)
		if err != nil {
			s.logError(opCreate, "encode_reasons_failed", err)
			return "", newServiceError(opCreate, "encode_reasons_failed", err)
		}
		reasonsJSON = string(encoded)
	}

	site := Site{
		PayloadKind:    PayloadKindPlain,
		CreatorName:    payload.CreatorName,
		PartnerName:    payload.PartnerName,
		LoveMessage:    payload.LoveMessage,
		PhotoBase64:    payload.PhotoBase64,
		PhotoCaption:   payload.PhotoCaption,
		HowWeMet:       payload.HowWeMet,
		FavoriteMemory: payload.FavoriteMemory,
		ReasonsJSON:    reasonsJSON,
		SongURL:        payload.SongURL,
		PetName:        payload.PetName,
		SecretMessage:  payload.SecretMessage,
	}
	return s.insert(ctx, site)
}

// CreateEncrypted inserts a site carrying an opaque ciphertext and IV and
// returns its new identifier.
func (s *Service) CreateEncrypted(ctx context.Context, payload EncryptedPayload) (string, error) {
	site := Site{
		PayloadKind:   PayloadKindEncrypted,
		EncryptedData: payload.EncryptedData,
		IV:            payload.IV,
	}
	return s.insert(ctx, site)
}

func (s *Service) insert(ctx context.Context, site Site) (string, error) {
	if s.db == nil {
		s.logError(opCreate, "missing_database", errMissingDatabase)
		return "", newServiceError(opCreate, "missing_database", errMissingDatabase)
	}

	site.CreatedAt = s.clock().UTC()
	site.ViewCount = 0
	site.AcceptedAt = nil
	site.ExpiresAt = s.expiresAt

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opCreate, "id_generation_failed", err)
			return "", newServiceError(opCreate, "id_generation_failed", err)
		}
		site.ID = id

		err = s.db.WithContext(ctx).Create(&site).Error
		if err == nil {
			return id, nil
		}
		if isDuplicateKey(err) {
			s.logger.Warn("site id collision, retrying",
				zap.String("site_id", id),
				zap.Int("attempt", attempt+1))
			continue
		}
		s.logError(opCreate, "insert_failed", err, zap.String("site_id", id))
		return "", newServiceError(opCreate, "insert_failed", err)
	}

	s.logError(opCreate, "id_exhausted", errIDExhausted)
	return "", newServiceError(opCreate, "id_exhausted", errIDExhausted)
}

// Get returns the site stored under id, expired or not. Callers decide
// whether an expired record may still be served.
func (s *Service) Get(ctx context.Context, id string) (Site, error) {
	if s.db == nil {
		s.logError(opGet, "missing_database", errMissingDatabase)
		return Site{}, newServiceError(opGet, "missing_database", errMissingDatabase)
	}

	var site Site
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&site).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Site{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String("site_id", id))
		return Site{}, newServiceError(opGet, "query_failed", err)
	}
	return site, nil
}

// RecordView atomically increments the view counter for id. Concurrent calls
// never lose increments because the addition happens inside the UPDATE.
func (s *Service) RecordView(ctx context.Context, id string) error {
	if s.db == nil {
		s.logError(opRecordView, "missing_database", errMissingDatabase)
		return newServiceError(opRecordView, "missing_database", errMissingDatabase)
	}

	result := s.db.WithContext(ctx).
		Model(&Site{}).
		Where("id = ?", id).
		UpdateColumn("view_count", gorm.Expr("view_count + 1"))
	if result.Error != nil {
		s.logError(opRecordView, "update_failed", result.Error, zap.String("site_id", id))
		return newServiceError(opRecordView, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// MarkAccepted sets the acceptance timestamp exactly once. The write is a
// compare-and-set on accepted_at IS NULL, so a second accept leaves the first
// timestamp untouched and still reports success.
func (s *Service) MarkAccepted(ctx context.Context, id string) error {
	if s.db == nil {
		s.logError(opMarkAccepted, "missing_database", errMissingDatabase)
		return newServiceError(opMarkAccepted, "missing_database", errMissingDatabase)
	}

	acceptedAt := s.clock().UTC()
	result := s.db.WithContext(ctx).
		Model(&Site{}).
		Where("id = ? AND accepted_at IS NULL", id).
		UpdateColumn("accepted_at", acceptedAt)
	if result.Error != nil {
		s.logError(opMarkAccepted, "update_failed", result.Error, zap.String("site_id", id))
		return newServiceError(opMarkAccepted, "update_failed", result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	// Zero rows means either already accepted or never created.
	var count int64
	if err := s.db.WithContext(ctx).Model(&Site{}).Where("id = ?", id).Count(&count).Error; err != nil {
		s.logError(opMarkAccepted, "existence_check_failed", err, zap.String("site_id", id))
		return newServiceError(opMarkAccepted, "existence_check_failed", err)
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// PurgeExpired deletes every site whose expiry cutoff is strictly before now
// and reports how many rows were removed. Running it with nothing expired is
// a no-op.
func (s *Service) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	if s.db == nil {
		s.logError(opPurgeExpired, "missing_database", errMissingDatabase)
		return 0, newServiceError(opPurgeExpired, "missing_database", errMissingDatabase)
	}

	result := s.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&Site{})
	if result.Error != nil {
		s.logError(opPurgeExpired, "delete_failed", result.Error)
		return 0, newServiceError(opPurgeExpired, "delete_failed", result.Error)
	}
	if result.RowsAffected > 0 {
		s.logger.Info("purged expired sites", zap.Int64("deleted", result.RowsAffected))
	}
	return result.RowsAffected, nil
}

// Ping reports whether the storage backing the service is reachable.
func (s *Service) Ping(ctx context.Context) error {
	if s.db == nil {
		return errMissingDatabase
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint")
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("sites service error", attrs...)
}
