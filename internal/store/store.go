// Package store is the boundary to the offline content store: cached
// auxiliary documents (toc, package descriptor, profile, navigation data)
// and the shared glossary asset location, addressed by resource descriptor.
package store

import "errors"

// ContentType classifies a cached resource.
type ContentType string

const (
	TypeToc        ContentType = "toc"
	TypeOPF        ContentType = "opf"
	TypeProfile    ContentType = "bookProfile"
	TypeNavigation ContentType = "navigation"
	TypeGlossary   ContentType = "glossary"
)

// Resource identifies one cached item: what it is, which content item owns
// it, and its filename within the owner's folder.
type Resource struct {
	Type     ContentType
	OwnerID  string
	Filename string
}

// ErrNotCached is returned when a fetched resource is not present.
var ErrNotCached = errors.New("resource not cached")

// FileStore serves cached bytes by resource descriptor.
type FileStore interface {
	// Fetch returns the cached bytes for the resource, or ErrNotCached.
	Fetch(res Resource) ([]byte, error)
	// Save persists bytes for the resource, creating folders as needed.
	Save(b []byte, res Resource) error
	// Reachable reports whether the resource exists in the store.
	Reachable(res Resource) bool
	// Dir returns the folder that holds the resource.
	Dir(res Resource) string
	// CopyDirectory copies src to dst. dst must not exist yet.
	CopyDirectory(src, dst string) error
	// CopyContent merges the contents of src into the existing dst,
	// overwriting files that collide.
	CopyContent(src, dst string) error
}
