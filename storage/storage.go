/*
	Package storage provides a unified interface to the array file formats served by
	ndv.  Each format is implemented by a storage engine that registers itself at init
	time.  Engines open files through a Store, which wraps a gocloud.dev blob bucket so
	the same engines can read from a local directory or a cloud bucket.

	Opened files expose a tree of Nodes.  Hierarchical formats (HDF5, zarr) have Groups
	and Datasets addressed by an absolute path within the file, while flat formats (npy)
	have a single Dataset at "/".
*/
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/blang/semver"
	"github.com/ndvserve/ndv/ndv"
)

// ErrNotFound is wrapped by errors for missing files or objects within files.
var ErrNotFound = errors.New("not found")

// ErrBadURI is wrapped by errors for object paths that are not allowed.
var ErrBadURI = errors.New("bad object path")

// ErrUnsupported is wrapped by errors for data an engine can describe but not read.
var ErrUnsupported = errors.New("unsupported data type")

// NotFoundf returns an error wrapping ErrNotFound.
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Engine is an array file format implementation.
type Engine interface {
	fmt.Stringer
	GetName() string
	GetDescription() string
	GetSemVer() semver.Version

	// Open returns the file stored under key.  Opening should be cheap; data
	// should only be read on demand.
	Open(ctx context.Context, store *Store, key string) (File, error)
}

var (
	availEngines   map[string]Engine
	availEnginesMu sync.RWMutex
)

// RegisterEngine registers an Engine for use by ndv.  It is typically called in
// the init() of an engine's package.
func RegisterEngine(e Engine) {
	availEnginesMu.Lock()
	defer availEnginesMu.Unlock()
	if availEngines == nil {
		availEngines = map[string]Engine{e.GetName(): e}
	} else {
		availEngines[e.GetName()] = e
	}
}

// GetEngine returns the registered engine with the given name.
func GetEngine(name string) (Engine, error) {
	availEnginesMu.RLock()
	defer availEnginesMu.RUnlock()
	e, found := availEngines[name]
	if !found {
		return nil, NotFoundf("no storage engine %q available", name)
	}
	return e, nil
}

// Engines returns all registered engines sorted by name.
func Engines() []Engine {
	availEnginesMu.RLock()
	defer availEnginesMu.RUnlock()
	engines := make([]Engine, 0, len(availEngines))
	for _, e := range availEngines {
		engines = append(engines, e)
	}
	sort.Slice(engines, func(i, j int) bool { return engines[i].GetName() < engines[j].GetName() })
	return engines
}

// EnginesAvailable returns a description of the available storage engines.
func EnginesAvailable() string {
	var engines []string
	for _, e := range Engines() {
		engines = append(engines, e.String())
	}
	return strings.Join(engines, "; ")
}

// Kinds of nodes within a file.
const (
	KindDataset = "dataset"
	KindGroup   = "group"
)

// Attribute is a small named value attached to a node.
type Attribute struct {
	Name  string
	DType ndv.DataType
	Shape []int
	Value interface{}
}

// Node is an object within an array file.
type Node interface {
	// Name is the absolute path of the node within its file, e.g., "/group/dset".
	Name() string

	// Kind is KindDataset or KindGroup.
	Kind() string

	Attributes() ([]Attribute, error)
}

// Group is a Node containing other nodes.
type Group interface {
	Node

	// Children returns the names of the immediate children, not their full paths.
	Children() ([]string, error)
}

// Dataset is a Node holding an n-d array.
type Dataset interface {
	Node

	DataType() ndv.DataType
	Shape() []int

	// ReadRegion reads a positive-stride region.  The returned array has shape
	// region.Count and the dataset's data type.
	ReadRegion(ctx context.Context, region ndv.Region) (*ndv.Array, error)
}

// File is an opened array file.
type File interface {
	// Get returns the node at the given absolute path.  An empty path is "/".
	Get(ctx context.Context, uri string) (Node, error)

	Close() error
}

// CleanURI normalizes an object path within a file to an absolute path without
// a trailing slash.  Any ".." parts are kept, so requested paths should go
// through ParseURI.
func CleanURI(uri string) string {
	parts := strings.Split(uri, "/")
	clean := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" && p != "." {
			clean = append(clean, p)
		}
	}
	return "/" + strings.Join(clean, "/")
}

// ParseURI cleans a requested object path, rejecting paths with ".." parts.
func ParseURI(uri string) (string, error) {
	for _, part := range strings.Split(uri, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %q may not contain '..'", ErrBadURI, uri)
		}
	}
	return CleanURI(uri), nil
}

// ChildURI joins a group path and a child name.
func ChildURI(parent, child string) string {
	if parent == "/" || parent == "" {
		return "/" + child
	}
	return parent + "/" + child
}

// CheckRegion validates a region against a shape.
func CheckRegion(region ndv.Region, shape []int) error {
	if len(region.Start) != len(shape) || len(region.Count) != len(shape) || len(region.Stride) != len(shape) {
		return fmt.Errorf("region of rank %d does not match dataset shape %v", len(region.Start), shape)
	}
	ext := region.Extent()
	for i := range shape {
		if region.Count[i] < 0 || region.Stride[i] < 1 || region.Start[i] < 0 {
			return fmt.Errorf("bad region start %d, count %d, stride %d along axis %d",
				region.Start[i], region.Count[i], region.Stride[i], i)
		}
		if region.Count[i] > 0 && ext[i] > shape[i] {
			return fmt.Errorf("region extends to %d along axis %d of size %d", ext[i], i, shape[i])
		}
	}
	return nil
}
