package sites

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PayloadKind discriminates the two site payload variants stored in one schema.
type PayloadKind string

const (
	// PayloadKindPlain marks a site carrying the structured content fields.
	PayloadKindPlain PayloadKind = "plain"
	// PayloadKindEncrypted marks a site carrying an opaque ciphertext and IV.
	PayloadKindEncrypted PayloadKind = "encrypted"
)

// ErrValidation indicates a create payload violated a field constraint.
var ErrValidation = errors.New("sites: invalid payload")

const (
	maxNameLength          = 50
	maxLoveMessageLength   = 2000
	maxStoryLength         = 1000
	maxPhotoCaptionLength  = 200
	maxPetNameLength       = 30
	maxSecretLength        = 500
	maxPhotoBase64Length   = 2_800_000
	maxReasons             = 6
	maxEncryptedDataLength = 4_000_000
	minIVLength            = 16
	maxIVLength            = 24
)

// songURLPrefixes is the allow-list of embeddable music links.
var songURLPrefixes = []string{
	"https://open.spotify.com/",
	"https://www.youtube.com/",
	"https://youtube.com/",
	"https://youtu.be/",
	"https://music.youtube.com/",
}

// Site models a persisted valentine page. Both payload variants live in the
// same table, discriminated by PayloadKind; the inactive variant's columns
// stay empty.
type Site struct {
	ID             string      `gorm:"column:id;primaryKey;size:32;not null"`
	PayloadKind    PayloadKind `gorm:"column:payload_kind;size:16;not null"`
	CreatorName    string      `gorm:"column:creator_name;size:50"`
	PartnerName    string      `gorm:"column:partner_name;size:50"`
	LoveMessage    string      `gorm:"column:love_message;type:text"`
	PhotoBase64    string      `gorm:"column:photo_base64;type:text"`
	PhotoCaption   string      `gorm:"column:photo_caption;size:200"`
	HowWeMet       string      `gorm:"column:how_we_met;type:text"`
	FavoriteMemory string      `gorm:"column:favorite_memory;type:text"`
	ReasonsJSON    string      `gorm:"column:reasons;type:text"`
	SongURL        string      `gorm:"column:song_url;size:512"`
	PetName        string      `gorm:"column:pet_name;size:30"`
	SecretMessage  string      `gorm:"column:secret_message;size:500"`
	EncryptedData  string      `gorm:"column:encrypted_data;type:text"`
	IV             string      `gorm:"column:iv;size:24"`
	CreatedAt      time.Time   `gorm:"column:created_at;autoCreateTime"`
	ViewCount      int64       `gorm:"column:view_count;not null;default:0"`
	AcceptedAt     *time.Time  `gorm:"column:accepted_at"`
	ExpiresAt      time.Time   `gorm:"column:expires_at;index:idx_sites_expires"`
}

// TableName provides the explicit table binding for GORM.
func (Site) TableName() string {
	return "sites"
}

// Accepted reports whether the valentine has been accepted.
func (s Site) Accepted() bool {
	return s.AcceptedAt != nil
}

// Expired reports whether the site is past its expiry cutoff at the given
// instant. Expired sites remain in storage until purged but must never be
// served.
func (s Site) Expired(now time.Time) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return s.ExpiresAt.Before(now)
}

// Reasons decodes the stored reasons list. An empty column yields nil.
func (s Site) Reasons() ([]string, error) {
	if s.ReasonsJSON == "" {
		return nil, nil
	}
	var reasons []string
	if err := json.Unmarshal([]byte(s.ReasonsJSON), &reasons); err != nil {
		return nil, fmt.Errorf("sites: decode reasons for %s: %w", s.ID, err)
	}
	return reasons, nil
}

// PlainPayload carries the structured content fields of a create request.
type PlainPayload struct {
	CreatorName    string   `json:"creator_name"`
	PartnerName    string   `json:"partner_name"`
	LoveMessage    string   `json:"love_message"`
	PhotoBase64    string   `json:"photo_base64"`
	PhotoCaption   string   `json:"photo_caption"`
	HowWeMet       string   `json:"how_we_met"`
	FavoriteMemory string   `json:"favorite_memory"`
	Reasons        []string `json:"reasons"`
	SongURL        string   `json:"song_url"`
	PetName        string   `json:"pet_name"`
	SecretMessage  string   `json:"secret_message"`
}

// Validate checks every field constraint and normalizes the reasons list.
func (p *PlainPayload) Validate() error {
	if strings.TrimSpace(p.CreatorName) == "" {
		return fmt.Errorf("%w: creator_name is required", ErrValidation)
	}
	if len(p.CreatorName) > maxNameLength {
		return fmt.Errorf("%w: creator_name exceeds %d characters", ErrValidation, maxNameLength)
	}
	if strings.TrimSpace(p.PartnerName) == "" {
		return fmt.Errorf("%w: partner_name is required", ErrValidation)
	}
	if len(p.PartnerName) > maxNameLength {
		return fmt.Errorf("%w: partner_name exceeds %d characters", ErrValidation, maxNameLength)
	}
	if strings.TrimSpace(p.LoveMessage) == "" {
		return fmt.Errorf("%w: love_message is required", ErrValidation)
	}
	if len(p.LoveMessage) > maxLoveMessageLength {
		return fmt.Errorf("%w: love_message exceeds %d characters", ErrValidation, maxLoveMessageLength)
	}
	if len(p.PhotoBase64) > maxPhotoBase64Length {
		return fmt.Errorf("%w: photo_base64 exceeds %d characters", ErrValidation, maxPhotoBase64Length)
	}
	if len(p.PhotoCaption) > maxPhotoCaptionLength {
		return fmt.Errorf("%w: photo_caption exceeds %d characters", ErrValidation, maxPhotoCaptionLength)
	}
	if len(p.HowWeMet) > maxStoryLength {
		return fmt.Errorf("%w: how_we_met exceeds %d characters", ErrValidation, maxStoryLength)
	}
	if len(p.FavoriteMemory) > maxStoryLength {
		return fmt.Errorf("%w: favorite_memory exceeds %d characters", ErrValidation, maxStoryLength)
	}
	if len(p.PetName) > maxPetNameLength {
		return fmt.Errorf("%w: pet_name exceeds %d characters", ErrValidation, maxPetNameLength)
	}
	if len(p.SecretMessage) > maxSecretLength {
		return fmt.Errorf("%w: secret_message exceeds %d characters", ErrValidation, maxSecretLength)
	}

	reasons := make([]string, 0, len(p.Reasons))
	for _, reason := range p.Reasons {
		if trimmed := strings.TrimSpace(reason); trimmed != "" {
			reasons = append(reasons, trimmed)
		}
	}
	if len(reasons) > maxReasons {
		return fmt.Errorf("%w: at most %d reasons allowed", ErrValidation, maxReasons)
	}
	if len(reasons) == 0 {
		reasons = nil
	}
	p.Reasons = reasons

	if p.SongURL != "" && !allowedSongURL(p.SongURL) {
		return fmt.Errorf("%w: song_url must be a Spotify or YouTube link", ErrValidation)
	}

	return nil
}

func allowedSongURL(raw string) bool {
	for _, prefix := range songURLPrefixes {
		if strings.HasPrefix(raw, prefix) {
			return true
		}
	}
	return false
}

// EncryptedPayload carries the opaque ciphertext variant of a create request.
// The server never interprets the ciphertext or the IV.
type EncryptedPayload struct {
	EncryptedData string `json:"encrypted_data"`
	IV            string `json:"iv"`
}

// Validate checks the size bounds of the opaque blob.
func (p *EncryptedPayload) Validate() error {
	if p.EncryptedData == "" {
		return fmt.Errorf("%w: encrypted_data is required", ErrValidation)
	}
	if len(p.EncryptedData) > maxEncryptedDataLength {
		return fmt.Errorf("%w: encrypted_data exceeds %d characters", ErrValidation, maxEncryptedDataLength)
	}
	if len(p.IV) < minIVLength || len(p.IV) > maxIVLength {
		return fmt.Errorf("%w: iv length must be between %d and %d", ErrValidation, minIVLength, maxIVLength)
	}
	return nil
}
