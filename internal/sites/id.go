package sites

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// idAlphabet is the URL-safe character set used for public site IDs.
	idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"
	// idLength keeps IDs short enough to share while leaving collisions
	// astronomically unlikely at expected volumes (64^8 values).
	idLength = 8
)

type nanoidProvider struct{}

// NewNanoIDProvider constructs an IDProvider issuing 8-character URL-safe
// identifiers from a cryptographically strong random source.
func NewNanoIDProvider() IDProvider {
	return &nanoidProvider{}
}

func (p *nanoidProvider) NewID() (string, error) {
	id, err := nanoid.Generate(idAlphabet, idLength)
	if err != nil {
		return "", fmt.Errorf("sites: generate id: %w", err)
	}
	return id, nil
}
