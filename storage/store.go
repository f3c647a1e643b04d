package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/ndvserve/ndv/ndv"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// Store is a root of array files, e.g., a local directory or a cloud bucket prefix.
type Store struct {
	ref      string
	bucket   *blob.Bucket
	localDir string
}

// FileInfo describes a stored file.
type FileInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// OpenStore opens the store described by ref.  See OpenBucket for accepted forms.
func OpenStore(ctx context.Context, ref string) (*Store, error) {
	bucket, localDir, err := OpenBucket(ctx, ref)
	if err != nil {
		return nil, err
	}
	ndv.Infof("Opened array store %q\n", ref)
	return &Store{ref: ref, bucket: bucket, localDir: localDir}, nil
}

// NewStore wraps an already opened bucket.  If the bucket reads from the local
// file system, localDir should give its directory.
func NewStore(bucket *blob.Bucket, localDir string) *Store {
	return &Store{ref: localDir, bucket: bucket, localDir: localDir}
}

func (s *Store) String() string {
	return s.ref
}

// Bucket returns the underlying blob bucket.
func (s *Store) Bucket() *blob.Bucket {
	return s.bucket
}

// Local returns true if files in the store are directly readable from disk.
func (s *Store) Local() bool {
	return s.localDir != ""
}

func (s *Store) Close() error {
	return s.bucket.Close()
}

// CleanKey normalizes a file key, rejecting keys that would escape the store.
func CleanKey(key string) (string, error) {
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return "", fmt.Errorf("empty file path")
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", fmt.Errorf("file path %q may not contain '..'", key)
		}
	}
	return path.Clean(key), nil
}

func wrapBlobErr(key string, err error) error {
	if err == nil {
		return nil
	}
	if gcerrors.Code(err) == gcerrors.NotFound {
		return NotFoundf("file %q", key)
	}
	return fmt.Errorf("error reading %q: %v", key, err)
}

// Stat returns information on a stored file.
func (s *Store) Stat(ctx context.Context, key string) (FileInfo, error) {
	attrs, err := s.bucket.Attributes(ctx, key)
	if err != nil {
		return FileInfo{}, wrapBlobErr(key, err)
	}
	return FileInfo{Key: key, Size: attrs.Size, ModTime: attrs.ModTime}, nil
}

// Exists returns true if a file is stored under key.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	return s.bucket.Exists(ctx, key)
}

// ReadAll returns the contents of a stored file.
func (s *Store) ReadAll(ctx context.Context, key string) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, key)
	if err != nil {
		return nil, wrapBlobErr(key, err)
	}
	notifyRead(len(data))
	return data, nil
}

// NewReader returns a reader for a stored file.
func (s *Store) NewReader(ctx context.Context, key string) (*blob.Reader, error) {
	r, err := s.bucket.NewReader(ctx, key, nil)
	return r, wrapBlobErr(key, err)
}

// ReadRange returns length bytes starting at offset.  A negative length reads to
// the end of the file.
func (s *Store) ReadRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	r, err := s.bucket.NewRangeReader(ctx, key, offset, length, nil)
	if err != nil {
		return nil, wrapBlobErr(key, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("error reading %d bytes at offset %d of %q: %v", length, offset, key, err)
	}
	notifyRead(len(data))
	return data, nil
}

// List returns the immediate children of a directory-like prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	iter := s.bucket.List(&blob.ListOptions{Prefix: prefix, Delimiter: "/"})
	var infos []FileInfo
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, wrapBlobErr(prefix, err)
		}
		infos = append(infos, FileInfo{
			Key:     strings.TrimSuffix(obj.Key, "/"),
			Size:    obj.Size,
			ModTime: obj.ModTime,
			IsDir:   obj.IsDir,
		})
	}
	return infos, nil
}

// LocalPath returns a path on the local file system holding the contents of key,
// for libraries that require random file access.  For remote stores the file is
// copied to a temporary file removed by the returned cleanup function.
func (s *Store) LocalPath(ctx context.Context, key string) (string, func(), error) {
	if s.localDir != "" {
		p := filepath.Join(s.localDir, filepath.FromSlash(key))
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				return "", nil, NotFoundf("file %q", key)
			}
			return "", nil, err
		}
		return p, func() {}, nil
	}
	r, err := s.NewReader(ctx, key)
	if err != nil {
		return "", nil, err
	}
	defer r.Close()
	f, err := os.CreateTemp("", "ndv-*"+path.Ext(key))
	if err != nil {
		return "", nil, err
	}
	cleanup := func() {
		if err := os.Remove(f.Name()); err != nil {
			ndv.Errorf("unable to remove temp copy %q of %q: %v\n", f.Name(), key, err)
		}
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("unable to copy %q to local file: %v", key, err)
	}
	ndv.Debugf("Copied %d bytes of %q to %s\n", n, key, f.Name())
	return f.Name(), cleanup, nil
}

// OpenFile opens key with the engine registered for format.
func (s *Store) OpenFile(ctx context.Context, format, key string) (File, error) {
	e, err := GetEngine(format)
	if err != nil {
		return nil, err
	}
	key, err = CleanKey(key)
	if err != nil {
		return nil, err
	}
	return e.Open(ctx, s, key)
}
