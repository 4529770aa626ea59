package ids

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Prefixes for persisted records.
const (
	Tenant      = "tnt"
	User        = "usr"
	Profile     = "upr"
	UserAuth    = "uau"
	Role        = "rol"
	UserRole    = "url"
	Audit       = "aud"
	Outbox      = "msg"
	EmailLog    = "eml"
	SMSLog      = "sms"
	EmailConfig = "ecf"
	SMSConfig   = "scf"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New returns a lexicographically sortable identifier of the form <prefix>_<ulid>.
// An empty prefix yields the bare ULID.
func New(prefix string) string {
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	entropyMu.Unlock()
	s := strings.ToLower(id.String())
	if prefix == "" {
		return s
	}
	return prefix + "_" + s
}

// Valid reports whether id was produced by New with the given prefix.
func Valid(id, prefix string) bool {
	if prefix != "" {
		rest, ok := strings.CutPrefix(id, prefix+"_")
		if !ok {
			return false
		}
		id = rest
	}
	if len(id) != ulid.EncodedSize {
		return false
	}
	_, err := ulid.ParseStrict(strings.ToUpper(id))
	return err == nil
}
