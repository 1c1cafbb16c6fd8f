package apiclient

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pottech/document-creation/internal/platform/auth"
)

var (
	ErrNotFound = errors.New("api client not found")
	// ErrProviderClientMissing means the identity provider no longer knows
	// the client although a local row exists.
	ErrProviderClientMissing = errors.New("api client is missing at the identity provider")
)

// HospitalRef names the hospital a client is bound to.
type HospitalRef struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Slug string    `json:"slug"`
}

// UserRef names the user who registered a client.
type UserRef struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

// Details is a client with its hospital and creator.
type Details struct {
	auth.APIClient
	Hospital      *HospitalRef `json:"hospital"`
	CreatedByUser *UserRef     `json:"createdByUser,omitempty"`
}

// ListFilter selects clients. SystemOnly wins over HospitalID.
type ListFilter struct {
	HospitalID *uuid.UUID
	SystemOnly bool
}

// CreateInput registers a client. HospitalID is honoured only for service
// admins; hospital admins always register clients of their hospital.
type CreateInput struct {
	Name        string     `json:"name" validate:"required,max=255"`
	Description string     `json:"description" validate:"max=1000"`
	HospitalID  *uuid.UUID `json:"hospitalId"`
}

// Created is a new client with its secret, which is shown exactly once.
type Created struct {
	Client       *auth.APIClient `json:"client"`
	ClientSecret string          `json:"clientSecret"`
}

const randomSpace = 2176782336 // 36^6

// GenerateClientID builds the provider client id
// api-{hospital slug|system}-{base36 millis}-{6 random base36 chars}.
func GenerateClientID(hospitalSlug string, now time.Time) (string, error) {
	prefix := "api-system"
	if hospitalSlug != "" {
		prefix = "api-" + hospitalSlug
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate client id: %w", err)
	}
	random := strconv.FormatUint(binary.BigEndian.Uint64(b[:])%randomSpace, 36)
	random = strings.Repeat("0", 6-len(random)) + random
	return prefix + "-" + strconv.FormatInt(now.UnixMilli(), 36) + "-" + random, nil
}
