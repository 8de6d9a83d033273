package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hupe1980/treeindex/blobstore"
	"github.com/hupe1980/treeindex/index"
	"github.com/hupe1980/treeindex/internal/resource"
	"github.com/hupe1980/treeindex/pagefile"
)

// Export copies every allocated page of src into store under name and, unless
// WithoutCommit is given, points CURRENT at it. An empty name is replaced by
// a timestamped one.
//
// The caller must flush any cache in front of src first.
func Export(ctx context.Context, src pagefile.PageFile, store blobstore.BlobStore, name string, optFns ...Option) (*Manifest, error) {
	o := defaultOptions()
	for _, fn := range optFns {
		fn(&o)
	}
	if o.compression > CompressionZSTD {
		return nil, &index.ConfigError{Field: "Compression", Value: o.compression, Reason: "unknown algorithm"}
	}

	created := o.now().UTC()
	if name == "" {
		name = fmt.Sprintf("snap-%s", created.Format("20060102T150405.000000000Z"))
	}
	if strings.Contains(name, "..") || name == blobstore.CurrentName {
		return nil, &index.ConfigError{Field: "Name", Value: name, Reason: "not a valid snapshot name"}
	}

	free, err := src.FreePages()
	if err != nil {
		return nil, err
	}
	isFree := make(map[pagefile.PageID]struct{}, len(free))
	for _, id := range free {
		isFree[id] = struct{}{}
	}

	m := &Manifest{
		Version:     FormatVersion,
		Name:        name,
		CreatedAt:   created,
		PageSize:    src.PageSize(),
		NumPages:    src.NumPages(),
		Compression: o.compression,
		Free:        free,
	}

	w, err := store.Create(ctx, pagesKey(name))
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", index.ErrIOFailure, pagesKey(name), err)
	}
	out := resource.NewRateLimitedWriter(ctx, w, o.controller)

	for i := 0; i < m.NumPages; i++ {
		id := pagefile.PageID(i)
		if _, ok := isFree[id]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			_ = blobstore.Abort(ctx, w)
			return nil, err
		}
		payload, err := src.Read(id)
		if err != nil {
			_ = blobstore.Abort(ctx, w)
			return nil, err
		}
		frame, err := encodeFrame(payload, o.compression)
		if err != nil {
			_ = blobstore.Abort(ctx, w)
			return nil, fmt.Errorf("compress %s: %w", id, err)
		}
		if _, err := out.Write(frame); err != nil {
			_ = blobstore.Abort(ctx, w)
			return nil, fmt.Errorf("%w: write %s: %w", index.ErrIOFailure, id, err)
		}
		m.Pages = append(m.Pages, PageRef{
			ID:     id,
			Offset: m.StoredBytes,
			Length: uint32(len(frame)),
			CRC:    pagefile.Checksum(payload),
		})
		m.RawBytes += int64(len(payload))
		m.StoredBytes += int64(len(frame))
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: finish %s: %w", index.ErrIOFailure, pagesKey(name), err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := store.Put(ctx, manifestKey(name), data); err != nil {
		return nil, fmt.Errorf("%w: write manifest: %w", index.ErrIOFailure, err)
	}
	if o.commit {
		if err := store.Put(ctx, blobstore.CurrentName, []byte(name)); err != nil {
			return nil, fmt.Errorf("commit %s: %w", name, err)
		}
	}

	o.logger.Info("exported snapshot", "name", name, "pages", len(m.Pages), "free", len(m.Free),
		"compression", m.Compression.String(), "raw_bytes", m.RawBytes, "stored_bytes", m.StoredBytes)
	return m, nil
}

// Import restores the snapshot called name into dst, which must be empty
// and use the same page size. An empty name restores the snapshot CURRENT
// points at.
func Import(ctx context.Context, store blobstore.BlobStore, name string, dst pagefile.PageFile, optFns ...Option) (*Manifest, error) {
	o := defaultOptions()
	for _, fn := range optFns {
		fn(&o)
	}

	if name == "" {
		latest, err := Latest(ctx, store)
		if err != nil {
			return nil, err
		}
		name = latest
	}
	m, err := ReadManifest(ctx, store, name)
	if err != nil {
		return nil, err
	}

	if dst.NumPages() != 0 {
		return nil, fmt.Errorf("%w: import target already holds %d pages", index.ErrInvalidState, dst.NumPages())
	}
	if dst.PageSize() != m.PageSize {
		return nil, &index.ConfigError{
			Field:  "PageSize",
			Value:  dst.PageSize(),
			Reason: fmt.Sprintf("snapshot %s uses %d", name, m.PageSize),
		}
	}

	for i := 0; i < m.NumPages; i++ {
		id, err := dst.Allocate()
		if err != nil {
			return nil, err
		}
		if id != pagefile.PageID(i) {
			return nil, fmt.Errorf("%w: import target allocated %s, want page(%d)", index.ErrInvalidState, id, i)
		}
	}

	blob, err := store.Open(ctx, pagesKey(name))
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", index.ErrIOFailure, pagesKey(name), err)
	}
	defer func() { _ = blob.Close() }()

	for _, ref := range m.Pages {
		if uint32(ref.ID) >= uint32(m.NumPages) {
			return nil, index.NewCorruptPageError("import", uint32(ref.ID), "page is outside the snapshot")
		}
		if err := o.controller.AcquireIO(ctx, int(ref.Length)); err != nil {
			return nil, err
		}
		frame := make([]byte, ref.Length)
		n, err := blob.ReadAt(ctx, frame, ref.Offset)
		if err != nil && !(errors.Is(err, io.EOF) && n == len(frame)) {
			if errors.Is(err, io.EOF) {
				return nil, index.NewCorruptPageError("import", uint32(ref.ID), "pages blob is truncated")
			}
			return nil, index.NewIOError("import", uint32(ref.ID), err)
		}
		payload, err := decodeFrame(frame, m.Compression)
		if err != nil {
			return nil, index.NewCorruptPageError("import", uint32(ref.ID), "%v", err)
		}
		if pagefile.Checksum(payload) != ref.CRC {
			return nil, index.NewCorruptPageError("import", uint32(ref.ID), "checksum mismatch")
		}
		if err := dst.Write(ref.ID, payload); err != nil {
			return nil, err
		}
	}

	// Free in reverse so that the first recorded id ends up reused first.
	for i := len(m.Free) - 1; i >= 0; i-- {
		if err := dst.Free(m.Free[i]); err != nil {
			return nil, err
		}
	}
	if err := dst.Sync(); err != nil {
		return nil, err
	}

	o.logger.Info("imported snapshot", "name", name, "pages", len(m.Pages), "free", len(m.Free))
	return m, nil
}

// ReadManifest loads the manifest of the named snapshot.
func ReadManifest(ctx context.Context, store blobstore.BlobStore, name string) (*Manifest, error) {
	data, err := blobstore.ReadAll(ctx, store, manifestKey(name))
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: snapshot %s", index.ErrNotFound, name)
		}
		return nil, fmt.Errorf("%w: read manifest of %s: %w", index.ErrIOFailure, name, err)
	}
	return decodeManifest(data)
}

// Latest returns the name CURRENT points at.
func Latest(ctx context.Context, store blobstore.BlobStore) (string, error) {
	data, err := blobstore.ReadAll(ctx, store, blobstore.CurrentName)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return "", fmt.Errorf("%w: no committed snapshot", index.ErrNotFound)
		}
		return "", fmt.Errorf("%w: read %s: %w", index.ErrIOFailure, blobstore.CurrentName, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// List returns the names of all snapshots with a manifest, sorted.
func List(ctx context.Context, store blobstore.BlobStore) ([]string, error) {
	keys, err := store.List(ctx, "")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, k := range keys {
		if name, ok := strings.CutSuffix(k, "/"+manifestFile); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

// Delete removes the named snapshot. The snapshot CURRENT points at cannot
// be deleted.
func Delete(ctx context.Context, store blobstore.BlobStore, name string) error {
	if latest, err := Latest(ctx, store); err == nil && latest == name {
		return fmt.Errorf("%w: snapshot %s is current", index.ErrInvalidState, name)
	}
	if err := store.Delete(ctx, manifestKey(name)); err != nil {
		return err
	}
	return store.Delete(ctx, pagesKey(name))
}
