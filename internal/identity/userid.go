package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
)

// userIDPattern matches the CLI metadata format:
// user_[lowercase hex]_account__session_[uuid v4].
var userIDPattern = regexp.MustCompile(`^user_[a-f0-9]+_account__session_[0-9a-f-]{36}$`)

// GenerateUserID synthesizes a fresh CLI-shaped user identifier. Both the
// account and session components are freshly generated 128-bit values.
func GenerateUserID() string {
	accountBytes := make([]byte, 16)
	_, _ = rand.Read(accountBytes)
	return "user_" + hex.EncodeToString(accountBytes) + "_account__session_" + uuid.New().String()
}

// IsValidUserID reports whether userID already matches the CLI format.
func IsValidUserID(userID string) bool {
	return userIDPattern.MatchString(userID)
}

type userIDEntry struct {
	value  string
	expire time.Time
}

const userIDTTL = time.Hour

// userIDCache keeps one synthesized identity per client credential so a
// client presents a stable user ID across requests. Entries expire after
// userIDTTL of inactivity and are purged lazily on lookup.
type userIDCache struct {
	mu      sync.Mutex
	entries map[string]userIDEntry
}

func newUserIDCache() *userIDCache {
	return &userIDCache{entries: make(map[string]userIDEntry)}
}

func cacheKey(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}

// Lookup returns the cached identity for credential, synthesizing and storing
// a fresh one when no valid entry exists. An empty credential always gets a
// fresh ID. The TTL is refreshed on access.
func (c *userIDCache) Lookup(credential string) string {
	if credential == "" {
		return GenerateUserID()
	}

	key := cacheKey(credential)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeLocked(now)

	entry, ok := c.entries[key]
	if ok && entry.value != "" && entry.expire.After(now) && IsValidUserID(entry.value) {
		entry.expire = now.Add(userIDTTL)
		c.entries[key] = entry
		return entry.value
	}

	id := GenerateUserID()
	c.entries[key] = userIDEntry{value: id, expire: now.Add(userIDTTL)}
	return id
}

func (c *userIDCache) purgeLocked(now time.Time) {
	for key, entry := range c.entries {
		if !entry.expire.After(now) {
			delete(c.entries, key)
		}
	}
}
