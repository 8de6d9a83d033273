package distance

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/hupe1980/treeindex/index"
	"github.com/hupe1980/treeindex/internal/fs"
	"github.com/hupe1980/treeindex/internal/mmap"
	"github.com/hupe1980/treeindex/model"
)

// MatrixMagic identifies precomputed distance matrix files.
const MatrixMagic uint32 = 50902811

const (
	matrixHeaderSize = 20
	matrixRecordSize = 8
)

// matrixHeader is the fixed file header:
// [magic u32][headerSize u32][recordSize u32][numRecords u32][matrixSize u32].
type matrixHeader struct {
	Magic      uint32
	HeaderSize uint32
	RecordSize uint32
	NumRecords uint32
	MatrixSize uint32
}

func (h matrixHeader) encode() []byte {
	buf := make([]byte, matrixHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:], h.HeaderSize)
	binary.LittleEndian.PutUint32(buf[8:], h.RecordSize)
	binary.LittleEndian.PutUint32(buf[12:], h.NumRecords)
	binary.LittleEndian.PutUint32(buf[16:], h.MatrixSize)
	return buf
}

func decodeMatrixHeader(buf []byte) matrixHeader {
	return matrixHeader{
		Magic:      binary.LittleEndian.Uint32(buf[0:]),
		HeaderSize: binary.LittleEndian.Uint32(buf[4:]),
		RecordSize: binary.LittleEndian.Uint32(buf[8:]),
		NumRecords: binary.LittleEndian.Uint32(buf[12:]),
		MatrixSize: binary.LittleEndian.Uint32(buf[16:]),
	}
}

// triangleIndex returns the record of (i, j) for i <= j.
func triangleIndex(i, j uint64) uint64 {
	return j*(j+1)/2 + i
}

// WriteMatrix writes the upper triangle (diagonal included) of an n x n
// symmetric distance matrix. dist is called with i <= j.
func WriteMatrix(fsys fs.FileSystem, path string, n int, dist func(i, j int) float64) error {
	if n < 0 {
		return fmt.Errorf("%w: negative matrix size %d", index.ErrInvalidConfiguration, n)
	}
	records := triangleIndex(0, uint64(n))
	if records > math.MaxUint32 {
		return fmt.Errorf("%w: matrix of size %d needs %d records, at most %d fit the header",
			index.ErrInvalidConfiguration, n, records, uint64(math.MaxUint32))
	}

	if fsys == nil {
		fsys = fs.Default
	}
	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create matrix %s: %w", path, err)
	}

	hdr := matrixHeader{
		Magic:      MatrixMagic,
		HeaderSize: matrixHeaderSize,
		RecordSize: matrixRecordSize,
		NumRecords: uint32(records),
		MatrixSize: uint32(n),
	}

	w := bufio.NewWriter(f)
	if _, err := w.Write(hdr.encode()); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: write matrix header: %w", index.ErrIOFailure, err)
	}

	var rec [matrixRecordSize]byte
	for j := 0; j < n; j++ {
		for i := 0; i <= j; i++ {
			binary.LittleEndian.PutUint64(rec[:], math.Float64bits(dist(i, j)))
			if _, err := w.Write(rec[:]); err != nil {
				_ = f.Close()
				return fmt.Errorf("%w: write matrix record (%d,%d): %w", index.ErrIOFailure, i, j, err)
			}
		}
	}

	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: flush matrix: %w", index.ErrIOFailure, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: sync matrix: %w", index.ErrIOFailure, err)
	}
	return f.Close()
}

type matrixOptions struct {
	cacheBytes int64
}

// MatrixOption configures OpenMatrix.
type MatrixOption func(*matrixOptions)

// WithRowCacheBytes bounds the decoded row cache. 0 disables caching.
func WithRowCacheBytes(n int64) MatrixOption {
	return func(o *matrixOptions) {
		o.cacheBytes = n
	}
}

// MatrixFile is a read-only, memory-mapped distance matrix.
// Object ids are the row/column offsets [0, Size()).
type MatrixFile struct {
	m    *mmap.Mapping
	size int
	rows *ristretto.Cache[uint64, []float64]
}

// OpenMatrix maps a matrix written by WriteMatrix.
func OpenMatrix(path string, optFns ...MatrixOption) (*MatrixFile, error) {
	opts := matrixOptions{cacheBytes: 8 << 20}
	for _, fn := range optFns {
		fn(&opts)
	}

	m, err := mmap.Open(path, mmap.AccessRandom)
	if err != nil {
		return nil, fmt.Errorf("%w: map matrix %s: %w", index.ErrIOFailure, path, err)
	}

	hdrBytes, err := m.Slice(0, matrixHeaderSize)
	if err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("%w: matrix %s: short header", index.ErrCorruptPage, path)
	}
	hdr := decodeMatrixHeader(hdrBytes)

	switch {
	case hdr.Magic != MatrixMagic:
		err = fmt.Errorf("bad magic %d", hdr.Magic)
	case hdr.HeaderSize != matrixHeaderSize || hdr.RecordSize != matrixRecordSize:
		err = fmt.Errorf("unexpected layout header=%d record=%d", hdr.HeaderSize, hdr.RecordSize)
	case uint64(hdr.NumRecords) != triangleIndex(0, uint64(hdr.MatrixSize)):
		err = fmt.Errorf("record count %d does not match size %d", hdr.NumRecords, hdr.MatrixSize)
	case int64(m.Size()) != matrixHeaderSize+int64(hdr.NumRecords)*matrixRecordSize:
		err = fmt.Errorf("file size %d does not match %d records", m.Size(), hdr.NumRecords)
	}
	if err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("%w: matrix %s: %w", index.ErrCorruptPage, path, err)
	}


	mf := &MatrixFile{m: m, size: int(hdr.MatrixSize)}
	if opts.cacheBytes > 0 {
		mf.rows, err = ristretto.NewCache(&ristretto.Config[uint64, []float64]{
			NumCounters: int64(10 * max(mf.size, 1)),
			MaxCost:     opts.cacheBytes,
			BufferItems: 64,
		})
		if err != nil {
			_ = m.Close()
			return nil, err
		}
	}
	return mf, nil
}

// Size returns the number of objects covered by the matrix.
func (mf *MatrixFile) Size() int { return mf.size }

// IDs returns all object ids of the matrix.
func (mf *MatrixFile) IDs() *model.DBIDs {
	ids := model.NewDBIDs()
	ids.Bitmap().AddRange(0, uint64(mf.size))
	return ids
}

// row returns the stored values (0..j, j) of column j.
func (mf *MatrixFile) row(j uint64) ([]float64, error) {
	if mf.rows != nil {
		if r, ok := mf.rows.Get(j); ok {
			return r, nil
		}
	}

	off := matrixHeaderSize + triangleIndex(0, j)*matrixRecordSize
	raw, err := mf.m.Slice(int(off), int((j+1)*matrixRecordSize))
	if err != nil {
		return nil, fmt.Errorf("%w: matrix row %d: %w", index.ErrIOFailure, j, err)
	}
	r := make([]float64, j+1)
	for i := range r {
		r[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*matrixRecordSize:]))
	}

	if mf.rows != nil {
		mf.rows.Set(j, r, int64(len(r)*matrixRecordSize))
	}
	return r, nil
}

// DistanceByID returns the stored distance of a and b.
func (mf *MatrixFile) DistanceByID(a, b model.DBID) (float64, error) {
	i, j := uint64(a), uint64(b)
	if i > j {
		i, j = j, i
	}
	if j >= uint64(mf.size) {
		return 0, fmt.Errorf("object %d outside matrix of size %d: %w", j, mf.size, index.ErrNotFound)
	}
	r, err := mf.row(j)
	if err != nil {
		return 0, err
	}
	return r[i], nil
}

// DistanceTo is not supported: the matrix holds no vectors.
func (mf *MatrixFile) DistanceTo([]float64, model.DBID) (float64, error) {
	return 0, fmt.Errorf("distance matrix has no vectors: %w", index.ErrUnsupportedOperation)
}

// Close releases the cache and the mapping.
func (mf *MatrixFile) Close() error {
	if mf.rows != nil {
		mf.rows.Close()
	}
	return mf.m.Close()
}
