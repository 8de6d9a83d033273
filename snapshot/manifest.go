package snapshot

import (
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/hupe1980/treeindex/index"
	"github.com/hupe1980/treeindex/pagefile"
)

// FormatVersion is the manifest format written by Export.
const FormatVersion = 1

const (
	manifestFile = "manifest.json"
	pagesFile    = "pages.bin"
)

// PageRef locates one page frame inside the pages blob.
type PageRef struct {
	ID     pagefile.PageID `json:"id"`
	Offset int64           `json:"offset"`
	Length uint32          `json:"length"`
	CRC    uint32          `json:"crc"`
}

// Manifest describes a snapshot.
type Manifest struct {
	Version     int               `json:"version"`
	Name        string            `json:"name"`
	CreatedAt   time.Time         `json:"created_at"`
	PageSize    int               `json:"page_size"`
	NumPages    int               `json:"num_pages"`
	Compression Compression       `json:"compression"`
	Free        []pagefile.PageID `json:"free,omitempty"`
	Pages       []PageRef         `json:"pages"`

	// RawBytes and StoredBytes are payload totals before and after compression.
	RawBytes    int64 `json:"raw_bytes"`
	StoredBytes int64 `json:"stored_bytes"`
}

// Ratio returns StoredBytes / RawBytes, or 1 for an empty snapshot.
func (m *Manifest) Ratio() float64 {
	if m.RawBytes == 0 {
		return 1
	}
	return float64(m.StoredBytes) / float64(m.RawBytes)
}

func manifestKey(name string) string { return path.Join(name, manifestFile) }
func pagesKey(name string) string    { return path.Join(name, pagesFile) }

func decodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, index.NewCorruptPageError("snapshot manifest", uint32(pagefile.NoPage), "%v", err)
	}
	if m.Version != FormatVersion {
		return nil, fmt.Errorf("%w: snapshot format version %d", index.ErrUnsupportedOperation, m.Version)
	}
	if len(m.Pages)+len(m.Free) != m.NumPages {
		return nil, index.NewCorruptPageError("snapshot manifest", uint32(pagefile.NoPage),
			"%d pages and %d free pages do not add up to %d", len(m.Pages), len(m.Free), m.NumPages)
	}
	return &m, nil
}
