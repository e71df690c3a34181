package data

// AssetKind identifies the kind of downloadable asset. Only book archives
// carry post-transfer assembly today; other kinds exist in manifests and are
// transferred verbatim.
type AssetKind string

const (
	KindBook AssetKind = "Book"
	KindZip  AssetKind = "Zip"
	KindPDF  AssetKind = "PDF"
)

// Status is the lifecycle state of a transfer unit.
type Status string

const (
	StatusNotStarted Status = "NotStarted"
	StatusQueued     Status = "Queued"
	StatusInProgress Status = "InProgress"
	StatusPaused     Status = "Paused"
	StatusCompleted  Status = "Completed"
	StatusCancelled  Status = "Cancelled"
	StatusError      Status = "Failed"
)

// Live reports whether the status counts against the in-flight storage
// commitment and the correlation-id uniqueness invariant.
func (s Status) Live() bool {
	return s == StatusQueued || s == StatusInProgress || s == StatusPaused
}

// Restartable reports whether Start on a unit in this state tears the unit
// down and restarts it from scratch.
func (s Status) Restartable() bool {
	switch s {
	case StatusQueued, StatusInProgress, StatusPaused, StatusCancelled, StatusError:
		return true
	}
	return false
}

// Key is the registry identity of a unit.
type Key struct {
	OwnerID string `json:"ownerId"`
	AssetID string `json:"assetId"`
}

// NoCorrelation marks a unit with no underlying network task.
const NoCorrelation int64 = -1

// Unit is one downloadable asset: immutable facts from the manifest plus the
// mutable transfer state. The registry is the only writer once a unit is
// registered.
type Unit struct {
	OwnerID  string    `json:"ownerId"`
	AssetID  string    `json:"assetId"`
	Kind     AssetKind `json:"kind"`
	Source   string    `json:"source"`
	Size     int64     `json:"size"`
	Checksum string    `json:"checksum"`

	Status        Status  `json:"status"`
	Progress      float64 `json:"progress"`
	CorrelationID int64   `json:"-"`
	ResumeToken   []byte  `json:"-"`
}

// Key returns the registry identity of the unit.
func (u *Unit) Key() Key {
	return Key{OwnerID: u.OwnerID, AssetID: u.AssetID}
}

// SameDownload reports whether two units describe the same logical download.
// Identity plus checksum, source and size must all match; a manifest that
// re-describes an asset with different facts is a different download.
func (u *Unit) SameDownload(o *Unit) bool {
	if u == nil || o == nil {
		return false
	}
	return u.OwnerID == o.OwnerID &&
		u.AssetID == o.AssetID &&
		u.Checksum == o.Checksum &&
		u.Source == o.Source &&
		u.Size == o.Size
}

// Clone returns a deep copy of the unit.
func (u *Unit) Clone() *Unit {
	if u == nil {
		return nil
	}
	c := *u
	if u.ResumeToken != nil {
		c.ResumeToken = append([]byte(nil), u.ResumeToken...)
	}
	return &c
}

// Units is a list of transfer units.
type Units []*Unit

// Clone deep-copies the list.
func (us Units) Clone() Units {
	out := make(Units, len(us))
	for i, u := range us {
		out[i] = u.Clone()
	}
	return out
}
