package student

import (
	"context"
	"crypto/subtle"
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/daniel-alt-pages/ietac-sub000/core"
)

var (
	ErrTokenMismatch = errors.New("confirmation code does not match")
	ErrTokenExpired  = errors.New("confirmation code expired or was never issued")
)

const (
	opDelete = "delete"
	opRekey  = "rekey"
)

// ConfirmationStore keeps issued confirmation codes until they expire.
// Get returns ErrTokenExpired once the TTL elapsed or when nothing was issued under key.
type ConfirmationStore interface {
	Put(ctx context.Context, key, code string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

func deletionSeed(id, actor string) string {
	return strings.Join([]string{opDelete, id, actor}, ":")
}

func rekeySeed(oldID, newID, actor string) string {
	return strings.Join([]string{opRekey, oldID, newID, actor}, ":")
}

// DeletionCode is the 6-digit code confirming the deletion of student id by actor.
func DeletionCode(id, actor string) string {
	return confirmationCode(deletionSeed(id, actor))
}

// RekeyCode is the 6-digit code confirming the change of oldID into newID by actor.
func RekeyCode(oldID, newID, actor string) string {
	return confirmationCode(rekeySeed(oldID, newID, actor))
}

// confirmationCode reduces the 32-bit "h*31 + c" hash of seed (over UTF-16 code units)
// into [100000, 999999].
// The code only guards against misclicks: whoever can request it can read it.
func confirmationCode(seed string) string {
	var h int32
	for _, c := range utf16.Encode([]rune(seed)) {
		h = h*31 + int32(c)
	}
	n := int64(h)
	if n < 0 {
		n = -n
	}
	return strconv.FormatInt(n%900000+100000, 10)
}

func issue(ctx context.Context, store ConfirmationStore, seed string, ttl time.Duration) (Confirmation, error) {
	code := confirmationCode(seed)
	if err := store.Put(ctx, seed, code, ttl); err != nil {
		return Confirmation{}, err
	}
	return Confirmation{Code: code, ExpiresAt: core.NowFunc().Add(ttl)}, nil
}

// consume checks presented against the code issued under seed and burns it on success.
// A wrong code leaves the issued one in place so the actor may retry before it expires.
func consume(ctx context.Context, store ConfirmationStore, seed, presented string) error {
	issued, err := store.Get(ctx, seed)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(issued), []byte(strings.TrimSpace(presented))) == 0 {
		return ErrTokenMismatch
	}
	return store.Delete(ctx, seed)
}
