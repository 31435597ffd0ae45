// Package id provides identifier generation for oneM2M requests and broker
// sessions.
//
// Request identifiers are prefixed ULIDs drawn from a monotonic source, so
// two requests issued in the same millisecond by one simulator still sort in
// issue order. MQTT client identifiers use a UUID suffix instead: brokers cap
// client id length and only need uniqueness.
package id

import (
	"crypto/rand"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// RequestID correlates a published oneM2M request with its response (rqi).
type RequestID string

// ResourceRequestID is sent as the X-M2M-RI header on HTTP requests.
type ResourceRequestID string

const (
	RequestPrefix         = "rqi"
	ResourceRequestPrefix = "ri"

	clientSuffixLen = 12
)

func (id RequestID) String() string         { return string(id) }
func (id ResourceRequestID) String() string { return string(id) }

// Source hands out prefixed ULIDs. It is safe for concurrent use.
type Source struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// NewSource returns a monotonic source over entropy; nil means crypto/rand.
func NewSource(entropy io.Reader) *Source {
	if entropy == nil {
		entropy = rand.Reader
	}
	return &Source{
		entropy: ulid.Monotonic(entropy, 0),
		now:     time.Now,
	}
}

var (
	process     *Source
	processOnce sync.Once
)

func shared() *Source {
	processOnce.Do(func() { process = NewSource(nil) })
	return process
}

// ULID returns the next identifier.
func (s *Source) ULID() ulid.ULID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(s.now()), s.entropy)
}

// Prefixed returns "<prefix>_<ulid>".
func (s *Source) Prefixed(prefix string) string {
	return prefix + "_" + s.ULID().String()
}

// NewRequestID generates a fresh MQTT correlation token.
func NewRequestID() RequestID {
	return RequestID(shared().Prefixed(RequestPrefix))
}

// NewResourceRequestID generates a fresh X-M2M-RI header value.
func NewResourceRequestID() ResourceRequestID {
	return ResourceRequestID(shared().Prefixed(ResourceRequestPrefix))
}

// NewClientID returns a broker client id for origin. The suffix keeps two
// simulators with the same origin from kicking each other off the broker.
func NewClientID(origin string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:clientSuffixLen]
	if origin == "" {
		return "sim-" + suffix
	}
	return origin + "-" + suffix
}

// Timestamp extracts the creation time from a prefixed or bare ULID.
func Timestamp(id string) (time.Time, error) {
	if i := strings.LastIndexByte(id, '_'); i >= 0 {
		id = id[i+1:]
	}
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
