// Package privacy derives the salted one-way hashes that make session data
// publishable on the ledger without exposing who was where. All hashes are
// deterministic for a fixed master salt so they survive process restarts and
// can be independently re-derived during verification.
package privacy

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

// MinSaltLength is the minimum acceptable master salt length in bytes.
const MinSaltLength = 16

// DefaultLocationPrecision is the number of coordinate decimals retained
// before hashing. Three decimals is roughly 111m, coarse enough to prevent
// re-identification from the public ledger.
const DefaultLocationPrecision = 3

// HashingError indicates the hashing layer itself is unusable, such as a
// missing or too-short master salt. It is an infrastructure failure, never a
// data problem.
type HashingError struct {
	Op  string
	Err error
}

func (e *HashingError) Error() string {
	return fmt.Sprintf("hashing %s: %v", e.Op, e.Err)
}

func (e *HashingError) Unwrap() error { return e.Err }

// SessionData is the canonical field set combined into the session hash.
// Both participants sign this digest, and verification re-derives it.
type SessionData struct {
	SessionID    string
	StudentID    string
	SeniorID     string
	TaskType     string
	StartTime    time.Time
	EndTime      time.Time
	Latitude     float64
	Longitude    float64
	CreditAmount float64
}

// Hasher produces privacy-preserving hashes keyed by a long-lived secret
// salt. Domain-specific subkeys are derived with HKDF so a leak of one hash
// family does not weaken the others.
type Hasher struct {
	userKey     []byte
	locationKey []byte
	sessionKey  []byte
	precision   int
}

// NewHasher constructs a Hasher from the master salt. It fails loudly when
// the salt is absent or too short; hashing with a default salt would silently
// break the privacy guarantee.
func NewHasher(masterSalt []byte, locationPrecision int) (*Hasher, error) {
	if len(masterSalt) == 0 {
		return nil, &HashingError{Op: "init", Err: fmt.Errorf("master salt is not configured")}
	}
	if len(masterSalt) < MinSaltLength {
		return nil, &HashingError{Op: "init", Err: fmt.Errorf("master salt must be at least %d bytes, got %d", MinSaltLength, len(masterSalt))}
	}
	if locationPrecision <= 0 {
		locationPrecision = DefaultLocationPrecision
	}

	h := &Hasher{precision: locationPrecision}
	for _, sub := range []struct {
		info string
		dst  *[]byte
	}{
		{"carecred/user-id", &h.userKey},
		{"carecred/location", &h.locationKey},
		{"carecred/session", &h.sessionKey},
	} {
		key := make([]byte, 32)
		r := hkdf.New(sha256.New, masterSalt, nil, []byte(sub.info))
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, &HashingError{Op: "derive subkey", Err: err}
		}
		*sub.dst = key
	}
	return h, nil
}

// HashUserID returns the hex HMAC of a participant id.
func (h *Hasher) HashUserID(userID string) string {
	return h.hmacHex(h.userKey, []byte(userID))
}

// HashLocation truncates coordinates to the configured precision and returns
// the hex HMAC of the coarse position. Truncation intentionally discards
// precision so the exact address cannot be recovered from the ledger.
func (h *Hasher) HashLocation(latitude, longitude float64) string {
	lat := truncate(latitude, h.precision)
	lon := truncate(longitude, h.precision)
	payload := strconv.FormatFloat(lat, 'f', h.precision, 64) + "," +
		strconv.FormatFloat(lon, 'f', h.precision, 64)
	return h.hmacHex(h.locationKey, []byte(payload))
}

// SessionHash combines all session fields into the single digest both
// parties sign. Field order is fixed; any mutation of the underlying session
// changes the digest.
func (h *Hasher) SessionHash(data SessionData) string {
	fields := []string{
		data.SessionID,
		data.StudentID,
		data.SeniorID,
		data.TaskType,
		data.StartTime.UTC().Format(time.RFC3339),
		data.EndTime.UTC().Format(time.RFC3339),
		strconv.FormatFloat(truncate(data.Latitude, h.precision), 'f', h.precision, 64),
		strconv.FormatFloat(truncate(data.Longitude, h.precision), 'f', h.precision, 64),
		strconv.FormatFloat(data.CreditAmount, 'f', 2, 64),
	}
	return h.hmacHex(h.sessionKey, []byte(strings.Join(fields, "|")))
}

// Verify reports whether providedHash matches the HMAC of data under the
// session subkey, in constant time.
func (h *Hasher) Verify(data SessionData, providedHash string) bool {
	expected := h.SessionHash(data)
	return hmac.Equal([]byte(expected), []byte(providedHash))
}

// MerkleRoot folds the item hashes into a single root digest. Odd levels
// promote the last node unchanged. An empty list hashes to the empty string.
func (h *Hasher) MerkleRoot(items []string) string {
	if len(items) == 0 {
		return ""
	}
	level := make([]string, len(items))
	for i, item := range items {
		level[i] = h.hmacHex(h.sessionKey, []byte(item))
	}
	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, h.hmacHex(h.sessionKey, []byte(level[i]+level[i+1])))
		}
		level = next
	}
	return level[0]
}

func (h *Hasher) hmacHex(key, payload []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func truncate(v float64, precision int) float64 {
	scale := math.Pow10(precision)
	return math.Trunc(v*scale) / scale
}
