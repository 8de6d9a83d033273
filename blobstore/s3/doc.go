// Package s3 stores page-file snapshots in Amazon S3.
//
// Store reads with ranged GETs and streams writes through the multipart
// uploader. DDBCommitStore adds a DynamoDB commit log for the CURRENT
// pointer so that concurrent exporters cannot overwrite each other.
//
//	cfg, _ := config.LoadDefaultConfig(ctx)
//	store := s3.NewStore(awss3.NewFromConfig(cfg), "my-bucket", "trees/")
//	commits := s3.NewDDBCommitStore(store, dynamodb.NewFromConfig(cfg), "treeindex-commits", "s3://my-bucket/trees")
package s3
