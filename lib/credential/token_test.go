package credential

import (
	"errors"
	"testing"

	"github.com/zalando/go-keyring"

	apperrors "github.com/go-i2p/wgclient/lib/errors"
)

func TestKeyringTokenStore(t *testing.T) {
	keyring.MockInit()

	store := NewKeyringTokenStore("", "")
	if _, err := store.Token(); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("Token() on empty keyring error = %v, want ErrNotFound", err)
	}

	if err := store.SetToken("abc123"); err != nil {
		t.Fatalf("SetToken() error = %v", err)
	}
	got, err := store.Token()
	if err != nil || got != "abc123" {
		t.Fatalf("Token() = %q, %v", got, err)
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Errorf("second Clear() error = %v", err)
	}
	if _, err := store.Token(); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Token() after Clear error = %v", err)
	}
}

func TestKeyringTokenStoreRejectsEmpty(t *testing.T) {
	keyring.MockInit()
	if err := NewKeyringTokenStore("svc", "acct").SetToken(""); !apperrors.IsInvalidInput(err) {
		t.Errorf("SetToken(\"\") error = %v", err)
	}
}

func TestMemoryTokenStore(t *testing.T) {
	store := NewMemoryTokenStore("")
	if _, err := store.Token(); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("empty Token() error = %v", err)
	}
	if err := store.SetToken(""); !apperrors.IsInvalidInput(err) {
		t.Errorf("SetToken(\"\") error = %v", err)
	}
	_ = store.SetToken("tok")
	if got, _ := store.Token(); got != "tok" {
		t.Errorf("Token() = %q", got)
	}
	_ = store.Clear()
	if _, err := store.Token(); err == nil {
		t.Error("Token() after Clear should fail")
	}
}
