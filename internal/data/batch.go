package data

// AccessKind describes how a book is packaged for offline use: one archive
// for the whole book, or one archive per chapter.
type AccessKind string

const (
	AccessWholeBook AccessKind = "WholeBook"
	AccessChunked   AccessKind = "Chunked"
)

// AssetDescriptor is one manifest-described asset requested in a batch.
type AssetDescriptor struct {
	OwnerID      string    `json:"ownerId"`
	AssetID      string    `json:"assetId"`
	Kind         AssetKind `json:"kind"`
	BaseURL      string    `json:"baseUrl"`
	Src          string    `json:"src"`
	Size         int64     `json:"size"`
	Checksum     string    `json:"checksum"`
	Title        string    `json:"title,omitempty"`
	ChapterIndex int       `json:"chapterIndex,omitempty"`
}

// SourceURL is the full download URL for the asset.
func (d AssetDescriptor) SourceURL() string {
	return d.BaseURL + d.Src
}

// BatchRequest asks the orchestrator to operate on a set of assets.
type BatchRequest struct {
	Reachable bool              `json:"reachable"`
	Access    AccessKind        `json:"access"`
	Assets    []AssetDescriptor `json:"assets"`
}

// BatchResponse is the payload of batch-scoped events. ForcedToggle, when
// set, overrides the consumer's derived toggle state for the listed units.
type BatchResponse struct {
	Access             AccessKind        `json:"access"`
	Assets             []AssetDescriptor `json:"assets"`
	Units              Units             `json:"units"`
	ForcedToggle       *bool             `json:"forcedToggle,omitempty"`
	AvailableFreeSpace int64             `json:"availableFreeSpace,omitempty"`
	RequiredFreeSpace  int64             `json:"requiredFreeSpace,omitempty"`
}
