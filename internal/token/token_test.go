package token

import (
	"path/filepath"
	"testing"

	"github.com/hack-dance/hackd/internal/model"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "tokens.json"))
	require.NoError(t, err)
	return s
}

func TestCreateAndVerify(t *testing.T) {
	s := newTestStore(t)

	created, err := s.Create(model.ScopeRead, "phone")
	require.NoError(t, err)
	require.NotEmpty(t, created.Token)
	require.NotEmpty(t, created.Record.Hash)
	require.NotEqual(t, created.Token, created.Record.Hash)

	rec, err := s.Verify(created.Token)
	require.NoError(t, err)
	require.Equal(t, created.Record.ID, rec.ID)
	require.NotNil(t, rec.LastUsedAt)
}

func TestVerifyUnknownToken(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Verify("not-a-real-token")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRevokeThenVerifyFails(t *testing.T) {
	s := newTestStore(t)
	created, err := s.Create(model.ScopeWrite, "")
	require.NoError(t, err)

	require.NoError(t, s.Revoke(created.Record.ID))

	_, err = s.Verify(created.Token)
	require.ErrorIs(t, err, ErrNotFound)

	require.ErrorIs(t, s.Revoke(created.Record.ID), ErrRevoked)
}

func TestCreateRevokeCreateOnlySecondVerifies(t *testing.T) {
	s := newTestStore(t)

	first, err := s.Create(model.ScopeRead, "one")
	require.NoError(t, err)
	require.NoError(t, s.Revoke(first.Record.ID))

	second, err := s.Create(model.ScopeRead, "two")
	require.NoError(t, err)

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 2)

	_, err = s.Verify(first.Token)
	require.Error(t, err)

	rec, err := s.Verify(second.Token)
	require.NoError(t, err)
	require.Equal(t, second.Record.ID, rec.ID)
}
