package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/treeindex/blobstore"
)

// ErrConcurrentModification is returned when another writer committed the
// same version first.
var ErrConcurrentModification = errors.New("concurrent modification detected")

// DDBClient is the subset of the DynamoDB API used by DDBCommitStore.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

var _ DDBClient = (*dynamodb.Client)(nil)

// Commit is one entry of the commit log.
type Commit struct {
	Version  uint64
	Snapshot string
}

// DDBCommitStore stores blobs in an inner store and keeps the CURRENT
// pointer in DynamoDB. Every Put of CURRENT appends version n+1 with a
// conditional write, so exactly one of two racing writers wins.
//
// Table schema:
//   - Partition key: base_uri (S)
//   - Sort key: version (N)
//
//	aws dynamodb create-table \
//	  --table-name treeindex-commits \
//	  --attribute-definitions AttributeName=base_uri,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=base_uri,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type DDBCommitStore struct {
	inner     blobstore.BlobStore
	ddb       DDBClient
	tableName string
	baseURI   string
}

var _ blobstore.BlobStore = (*DDBCommitStore)(nil)

// NewDDBCommitStore wraps inner. baseURI, typically "s3://bucket/prefix",
// partitions the commit log.
func NewDDBCommitStore(inner blobstore.BlobStore, ddb DDBClient, tableName, baseURI string) *DDBCommitStore {
	return &DDBCommitStore{
		inner:     inner,
		ddb:       ddb,
		tableName: tableName,
		baseURI:   baseURI,
	}
}

// Open serves CURRENT from the commit log and everything else from the
// inner store.
func (s *DDBCommitStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	if name != blobstore.CurrentName {
		return s.inner.Open(ctx, name)
	}
	c, err := s.Latest(ctx)
	if err != nil {
		return nil, err
	}
	return &pointerBlob{content: []byte(c.Snapshot)}, nil
}

// Put commits CURRENT and forwards everything else to the inner store.
func (s *DDBCommitStore) Put(ctx context.Context, name string, data []byte) error {
	if name == blobstore.CurrentName {
		_, err := s.commit(ctx, string(data))
		return err
	}
	return s.inner.Put(ctx, name, data)
}

func (s *DDBCommitStore) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	return s.inner.Create(ctx, name)
}

func (s *DDBCommitStore) Delete(ctx context.Context, name string) error {
	return s.inner.Delete(ctx, name)
}

func (s *DDBCommitStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

// Latest returns the newest commit, or blobstore.ErrNotFound if none exists.
func (s *DDBCommitStore) Latest(ctx context.Context) (Commit, error) {
	commits, err := s.query(ctx, 1)
	if err != nil {
		return Commit{}, err
	}
	if len(commits) == 0 {
		return Commit{}, blobstore.ErrNotFound
	}
	return commits[0], nil
}

// History returns up to limit commits, newest first. limit <= 0 returns all.
func (s *DDBCommitStore) History(ctx context.Context, limit int) ([]Commit, error) {
	return s.query(ctx, limit)
}

func (s *DDBCommitStore) query(ctx context.Context, limit int) ([]Commit, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: s.baseURI},
		},
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}

	var commits []Commit
	for {
		resp, err := s.ddb.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query commit log: %w", err)
		}
		for _, item := range resp.Items {
			c, err := decodeCommit(item)
			if err != nil {
				return nil, err
			}
			commits = append(commits, c)
		}
		if len(resp.LastEvaluatedKey) == 0 || (limit > 0 && len(commits) >= limit) {
			return commits, nil
		}
		input.ExclusiveStartKey = resp.LastEvaluatedKey
	}
}

func decodeCommit(item map[string]types.AttributeValue) (Commit, error) {
	v, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return Commit{}, errors.New("commit log item has no numeric version")
	}
	snap, ok := item["snapshot"].(*types.AttributeValueMemberS)
	if !ok {
		return Commit{}, errors.New("commit log item has no snapshot")
	}
	version, err := strconv.ParseUint(v.Value, 10, 64)
	if err != nil {
		return Commit{}, fmt.Errorf("parse commit version: %w", err)
	}
	return Commit{Version: version, Snapshot: snap.Value}, nil
}

func (s *DDBCommitStore) commit(ctx context.Context, snapshot string) (uint64, error) {
	var current uint64
	latest, err := s.Latest(ctx)
	switch {
	case err == nil:
		current = latest.Version
	case !errors.Is(err, blobstore.ErrNotFound):
		return 0, err
	}

	next := current + 1
	_, err = s.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"base_uri": &types.AttributeValueMemberS{Value: s.baseURI},
			"version":  &types.AttributeValueMemberN{Value: strconv.FormatUint(next, 10)},
			"snapshot": &types.AttributeValueMemberS{Value: snapshot},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var cond *types.ConditionalCheckFailedException
		if errors.As(err, &cond) {
			return 0, ErrConcurrentModification
		}
		return 0, fmt.Errorf("commit version %d: %w", next, err)
	}
	return next, nil
}

// pointerBlob serves the CURRENT content.
type pointerBlob struct {
	content []byte
}

func (b *pointerBlob) Close() error { return nil }
func (b *pointerBlob) Size() int64  { return int64(len(b.content)) }

func (b *pointerBlob) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(b.content)) {
		return 0, io.EOF
	}
	n := copy(p, b.content[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *pointerBlob) ReadRange(_ context.Context, off, length int64) (io.ReadCloser, error) {
	if off < 0 || off >= int64(len(b.content)) || length <= 0 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	end := min(off+length, int64(len(b.content)))
	return io.NopCloser(bytes.NewReader(b.content[off:end])), nil
}
