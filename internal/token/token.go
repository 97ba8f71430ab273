// Package token implements the gateway bearer-token store (spec.md
// section 4.3): creation, verification, and revocation of opaque tokens
// backed by gateway/tokens.json. Grounded on the teacher's
// pkg/manager/token.go TokenManager, generalized from role+expiry to
// scope+revocation and from in-memory to file-backed storage.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hack-dance/hackd/internal/fsutil"
	"github.com/hack-dance/hackd/internal/model"
)

var (
	ErrNotFound = errors.New("token: not found")
	ErrRevoked  = errors.New("token: already revoked")
)

const storeVersion = 1

type document struct {
	Version int                 `json:"version"`
	Tokens  []model.TokenRecord `json:"tokens"`
}

// Store is a file-backed, read-modify-write token table.
type Store struct {
	path string
	mu   sync.Mutex
}

// New creates a Store backed by path, creating an empty document if it
// does not exist yet.
func New(path string) (*Store, error) {
	s := &Store{path: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.write(document{Version: storeVersion, Tokens: []model.TokenRecord{}}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) read() (document, error) {
	var doc document
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return document{Version: storeVersion, Tokens: []model.TokenRecord{}}, nil
		}
		return doc, err
	}
	if len(data) == 0 {
		return document{Version: storeVersion, Tokens: []model.TokenRecord{}}, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, err
	}
	return doc, nil
}

func (s *Store) write(doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return fsutil.WriteFileAtomic(s.path, data, 0o600)
}

func hashSecret(cleartext string) string {
	sum := sha256.Sum256([]byte(cleartext))
	return hex.EncodeToString(sum[:])
}

// Created is returned from Create: the cleartext secret (shown exactly
// once) plus its persisted record.
type Created struct {
	Token  string
	Record model.TokenRecord
}

// Create generates a new 32-byte random secret, persists its hash with the
// given scope/label, and returns the cleartext alongside the record.
func (s *Store) Create(scope model.TokenScope, label string) (Created, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return Created{}, err
	}
	cleartext := base64.RawURLEncoding.EncodeToString(raw)

	record := model.TokenRecord{
		ID:        uuid.NewString(),
		Hash:      hashSecret(cleartext),
		Scope:     scope,
		Label:     label,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return Created{}, err
	}
	doc.Tokens = append(doc.Tokens, record)
	if err := s.write(doc); err != nil {
		return Created{}, err
	}

	return Created{Token: cleartext, Record: record}, nil
}

// Verify looks up the record whose hash matches cleartext and that has not
// been revoked, bumping lastUsedAt on success. Returns ErrNotFound if no
// live record matches (including a revoked match — the spec treats a
// revoked token identically to an unknown one for verification purposes).
func (s *Store) Verify(cleartext string) (model.TokenRecord, error) {
	hash := hashSecret(cleartext)

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return model.TokenRecord{}, err
	}

	for i, rec := range doc.Tokens {
		if subtle.ConstantTimeCompare([]byte(rec.Hash), []byte(hash)) == 1 {
			if rec.Revoked() {
				return model.TokenRecord{}, ErrNotFound
			}
			now := time.Now()
			doc.Tokens[i].LastUsedAt = &now
			if err := s.write(doc); err != nil {
				return model.TokenRecord{}, err
			}
			return doc.Tokens[i], nil
		}
	}
	return model.TokenRecord{}, ErrNotFound
}

// Revoke sets revokedAt on the given token id, unless it is already
// revoked.
func (s *Store) Revoke(tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	for i, rec := range doc.Tokens {
		if rec.ID == tokenID {
			if rec.Revoked() {
				return ErrRevoked
			}
			now := time.Now()
			doc.Tokens[i].RevokedAt = &now
			return s.write(doc)
		}
	}
	return ErrNotFound
}

// List returns every token record (never the cleartext secret, which this
// store never persists).
func (s *Store) List() ([]model.TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	return doc.Tokens, nil
}
