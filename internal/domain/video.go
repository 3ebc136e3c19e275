package domain

import (
	"database/sql/driver"
	"errors"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// VideoRef identifies a video inside the federation.
// The pair (UUID, Host) is globally unique and immutable once crawled.
type VideoRef struct {
	UUID string `json:"uuid"`
	Host string `json:"host"`
}

// NormalizeHost canonicalizes an instance domain before it is used as part
// of a video identity: lowercase, trimmed, no trailing dot.
func NormalizeHost(host string) string {
	h := strings.TrimSpace(strings.ToLower(host))
	return strings.TrimSuffix(h, ".")
}

// Normalized returns a copy of the ref with a canonical host.
func (r VideoRef) Normalized() VideoRef {
	return VideoRef{UUID: strings.TrimSpace(r.UUID), Host: NormalizeHost(r.Host)}
}

// Valid reports whether the ref can identify a video at all. Malformed refs
// in request input are dropped, not rejected as request errors.
func (r VideoRef) Valid() bool {
	return r.UUID != "" && NormalizeHost(r.Host) != ""
}

// Key returns the canonical string form used for hashing and dedup.
func (r VideoRef) Key() string {
	return NormalizeHost(r.Host) + "/" + r.UUID
}

// StringArray stores a string slice as JSON in a single column.
type StringArray []string

// Value implements driver.Valuer.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan StringArray")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// Video is the crawled metadata record for one federation video.
// The crawler owns writes to most fields; the engine reads them and writes
// only AnnID when the video is registered with the vector index.
type Video struct {
	ID          uint        `gorm:"primaryKey" json:"id"`
	UUID        string      `gorm:"uniqueIndex:idx_video_identity;size:64;not null" json:"uuid"`
	Host        string      `gorm:"uniqueIndex:idx_video_identity;size:255;not null" json:"host"`
	AnnID       uint64      `gorm:"index" json:"ann_id"`
	Title       string      `gorm:"size:512" json:"title"`
	Description string      `gorm:"type:text" json:"description"`
	Tags        StringArray `gorm:"type:text" json:"tags"`
	Category    string      `gorm:"size:64;index" json:"category"`
	ChannelName string      `gorm:"size:255;index" json:"channel_name"`
	ChannelHost string      `gorm:"size:255" json:"channel_host"`
	Duration    int         `json:"duration"`
	Thumbnail   string      `gorm:"size:1024" json:"thumbnail"`
	Views       int64       `json:"views"`
	Likes       int64       `json:"likes"`
	Dislikes    int64       `json:"dislikes"`
	PublishedAt time.Time   `gorm:"index" json:"published_at"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Ref returns the federation identity of the video.
func (v *Video) Ref() VideoRef {
	return VideoRef{UUID: v.UUID, Host: v.Host}
}

// AuthorKey identifies the channel across hosts, for per-author caps.
func (v *Video) AuthorKey() string {
	return v.ChannelName + "@" + NormalizeHost(v.ChannelHost)
}

// Channel is the crawled per-channel record.
type Channel struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Name       string    `gorm:"uniqueIndex:idx_channel_identity;size:255;not null" json:"name"`
	Host       string    `gorm:"uniqueIndex:idx_channel_identity;size:255;not null" json:"host"`
	Followers  int64     `json:"followers"`
	VideoCount int64     `json:"video_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Embedding is one precomputed vector row produced by the external embedding
// job and consumed at index-build time. Vectors are never mutated in place;
// re-embedding replaces the row wholesale under the same AnnID.
type Embedding struct {
	AnnID     uint64    `gorm:"primaryKey" json:"ann_id"`
	UUID      string    `gorm:"size:64;not null" json:"uuid"`
	Host      string    `gorm:"size:255;not null" json:"host"`
	Vector    []byte    `gorm:"type:blob;not null" json:"-"`
	Dim       int       `gorm:"not null" json:"dim"`
	CreatedAt time.Time `json:"created_at"`
}

// Ref returns the video identity the embedding belongs to.
func (e *Embedding) Ref() VideoRef {
	return VideoRef{UUID: e.UUID, Host: e.Host}
}

// DeniedEntry is one moderation denylist row: either a whole instance
// (Channel empty) or a single channel on an instance.
type DeniedEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Host      string    `gorm:"uniqueIndex:idx_denied;size:255;not null" json:"host"`
	Channel   string    `gorm:"uniqueIndex:idx_denied;size:255" json:"channel"`
	Reason    string    `gorm:"size:512" json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}
