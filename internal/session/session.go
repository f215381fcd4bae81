// Package session is the concurrency-safe registry of ephemeral conversation
// sessions.
//
// Sessions live only in process memory. A session is reachable while its
// idle timeout has not elapsed; expired entries are destroyed lazily on the
// next Get and by the background sweep, whichever comes first. Destruction
// overwrites turn content with random bytes before the entry is unlinked so
// raw message text does not linger in reachable memory.
package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"time"
)

// Role identifies the author of a turn.
type Role string

// Turn roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message inside a session. User-authored content is stored
// already redacted.
type Turn struct {
	Role      Role
	Content   string
	Locale    string
	Timestamp time.Time
	Crisis    bool
	Cached    bool
}

// RequestInfo carries per-request client attributes used for security
// bookkeeping. The IP address is hashed before storage.
type RequestInfo struct {
	IPAddress string
	UserAgent string
}

// CreateOptions configures a new session.
type CreateOptions struct {
	Anonymized bool
	Retention  string // free-form policy label, e.g. "ephemeral"
	Request    RequestInfo
}

// Session is an immutable snapshot of a stored session, returned by Get.
// Mutations go through Store methods only.
type Session struct {
	ID           string
	CreatedAt    time.Time
	LastActivity time.Time
	ExpiresAt    time.Time
	Turns        []Turn
	Anonymized   bool
	Retention    string
	RequestCount int64
}

// Report is the privacy/security summary exposed to operators. It carries
// counts and flags only, never raw turn content.
type Report struct {
	SessionID    string    `json:"sessionId"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	ExpiresAt    time.Time `json:"expiresAt"`
	TurnCount    int       `json:"turnCount"`
	CrisisTurns  int       `json:"crisisTurns"`
	Anonymized   bool      `json:"anonymized"`
	Retention    string    `json:"retention"`
	RequestCount int64     `json:"requestCount"`
}

// tokenShape is the cheap pre-lookup format check: 64 lowercase hex chars.
var tokenShape = regexp.MustCompile(`^[a-f0-9]{64}$`)

// ValidToken reports whether id has the shape of a store-issued token.
// Rejecting malformed tokens before map lookup keeps junk input cheap.
func ValidToken(id string) bool { return tokenShape.MatchString(id) }

// newToken returns a cryptographically unguessable 256-bit hex token.
func newToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failure means the process has no usable entropy
		// source; refusing to mint guessable tokens is the only safe move.
		panic("session: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// hashIP returns the hex SHA-256 of a client address. Only the hash is ever
// stored.
func hashIP(ip string) string {
	if ip == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])
}

// sanitizeUA bounds and strips a client signature before storage.
func sanitizeUA(ua string) string {
	const maxUA = 256
	if len(ua) > maxUA {
		ua = ua[:maxUA]
	}
	out := make([]rune, 0, len(ua))
	for _, r := range ua {
		if r >= 32 && r < 127 {
			out = append(out, r)
		}
	}
	return string(out)
}

// wipe overwrites every turn's content with random bytes of equal length.
// Best-effort: Go strings are immutable, so the wipe replaces the reachable
// reference rather than scrubbing the original backing array, but no turn
// content remains addressable through the store afterwards.
func wipe(turns []Turn) {
	for i := range turns {
		n := len(turns[i].Content)
		if n == 0 {
			continue
		}
		b := make([]byte, n)
		_, _ = rand.Read(b)
		turns[i].Content = string(b)
	}
}
