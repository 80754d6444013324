package wiki

import (
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/sidkik/wikisync/pkg/sync"
)

// Page is a wiki page.
type Page struct {
	ID          int       `json:"id"`
	Path        string    `json:"path"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Content     string    `json:"content"`
	Tags        []string  `json:"tags"`
	IsPublished bool      `json:"isPublished"`
	IsPrivate   bool      `json:"isPrivate"`
	Locale      string    `json:"locale"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Key returns the ID as used in sync items.
func (p Page) Key() string {
	return strconv.Itoa(p.ID)
}

// fingerprintFields is the part of a page that's fingerprinted. Timestamps
// are left out so that touching a page without editing it isn't a change.
type fingerprintFields struct {
	Content     string   `json:"content"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Path        string   `json:"path"`
	Tags        []string `json:"tags"`
	IsPublished bool     `json:"isPublished"`
	IsPrivate   bool     `json:"isPrivate"`
	Locale      string   `json:"locale"`
}

// Fingerprint returns a digest of the page's content and metadata.
func (p Page) Fingerprint() string {
	tags := append([]string{}, p.Tags...)
	sort.Strings(tags)

	// Marshalling a struct is deterministic, so the output is stable across
	// runs.
	canonical, _ := json.Marshal(fingerprintFields{
		Content:     p.Content,
		Title:       p.Title,
		Description: p.Description,
		Path:        sync.CleanDocPath(p.Path),
		Tags:        tags,
		IsPublished: p.IsPublished,
		IsPrivate:   p.IsPrivate,
		Locale:      p.Locale,
	})
	return sync.HashContent(canonical)
}
