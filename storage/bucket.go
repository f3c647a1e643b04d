package storage

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/ndvserve/ndv/ndv"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcp"
)

// OpenBucket returns a blob.Bucket for the given reference and, if the bucket is
// backed by the local file system, the directory it reads from.
// The reference should be one of:
//
//	/path/to/dir or relative/dir
//	file:///path/to/dir
//	mem://
//	gs://<bucketname>[/prefix]
//	s3://<bucketname>[/prefix]
//	vast://<endpoint>/<bucketname>
func OpenBucket(ctx context.Context, ref string) (bucket *blob.Bucket, localDir string, err error) {
	switch {
	case strings.HasPrefix(ref, "s3://"):
		// This relies on the non-GCS-specific blob API and requires that the user:
		// A: Have set up AWS credentials in ways gocloud can find them (see the "aws config" command)
		// B: Have set the AWS_REGION environment variable (usually to us-east-2)
		name, prefix := splitBucketRef(strings.TrimPrefix(ref, "s3://"))
		bucket, err = blob.OpenBucket(ctx, "s3://"+name)
		if err != nil {
			ndv.Errorf("Can't open bucket reference @ %q: %v\n", ref, err)
			return nil, "", err
		}
		bucket = prefixed(bucket, prefix)

	case strings.HasPrefix(ref, "vast://"):
		// VAST S3-compatible storage in form "vast://<endpoint>/<bucket>".
		// AWS_REGION must be set although it is ignored, and AWS_SHARED_CREDENTIALS_FILE
		// should point to a file with the access key and secret.
		parts := strings.SplitN(strings.TrimPrefix(ref, "vast://"), "/", 2)
		if len(parts) != 2 {
			return nil, "", fmt.Errorf("vast ref must be of form 'vast://<endpoint>/<bucket>'")
		}
		endpoint := parts[0]
		name, prefix := splitBucketRef(parts[1])
		u := fmt.Sprintf("s3://%s?endpoint=%s&s3ForcePathStyle=true", name, url.QueryEscape(endpoint))
		bucket, err = blob.OpenBucket(ctx, u)
		if err != nil {
			ndv.Errorf("Can't open bucket reference @ %q: %v\n", ref, err)
			return nil, "", err
		}
		bucket = prefixed(bucket, prefix)

	case strings.HasPrefix(ref, "gs://"):
		// Default to Google Store authentication.  See
		// https://cloud.google.com/docs/authentication/production for alternatives.
		creds, err := gcp.DefaultCredentials(ctx)
		if err != nil {
			return nil, "", err
		}
		client, err := gcp.NewHTTPClient(
			gcp.DefaultTransport(),
			gcp.CredentialsTokenSource(creds))
		if err != nil {
			return nil, "", err
		}
		name, prefix := splitBucketRef(strings.TrimPrefix(ref, "gs://"))
		bucket, err = gcsblob.OpenBucket(ctx, client, name, nil)
		if err != nil {
			ndv.Errorf("Can't open bucket reference @ %q: %v\n", ref, err)
			return nil, "", err
		}
		bucket = prefixed(bucket, prefix)

	case strings.HasPrefix(ref, "mem://"):
		bucket, err = blob.OpenBucket(ctx, ref)
		if err != nil {
			return nil, "", err
		}

	default:
		dir := strings.TrimPrefix(ref, "file://")
		if localDir, err = filepath.Abs(dir); err != nil {
			return nil, "", err
		}
		bucket, err = fileblob.OpenBucket(localDir, nil)
		if err != nil {
			ndv.Errorf("Can't open directory %q: %v\n", localDir, err)
			return nil, "", err
		}
	}
	return bucket, localDir, nil
}

func splitBucketRef(ref string) (name, prefix string) {
	parts := strings.SplitN(ref, "/", 2)
	name = parts[0]
	if len(parts) == 2 {
		prefix = strings.Trim(parts[1], "/")
	}
	return
}

func prefixed(bucket *blob.Bucket, prefix string) *blob.Bucket {
	if prefix == "" {
		return bucket
	}
	return blob.PrefixedBucket(bucket, prefix+"/")
}
