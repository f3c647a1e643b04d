/*
	This file contains the HTTP routes and handlers for array data, metadata and
	statistics.
*/

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/DmitriyVTitov/size"
	"github.com/dustin/go-humanize"
	"github.com/ndvserve/ndv/chunk"
	"github.com/ndvserve/ndv/ndv"
	"github.com/ndvserve/ndv/storage"
	"github.com/tinylib/msgp/msgp"
	"github.com/wblakecaldwell/profiler"
	"github.com/zenazn/goji/web"
	"github.com/zenazn/goji/web/middleware"
	"golang.org/x/net/websocket"
)

const (
	// WebAPIVersion is the string version of the API.
	WebAPIVersion = "v1"

	// WebAPIPath is the URL path prefix for server-level API calls.
	WebAPIPath = "/api/"
)

const WebHelp = `
API for ndv (version %s)
=========================

Files are addressed by <format>/<path> where <format> is the storage engine
("hdf", "npy" or "zarr") and <path> is relative to the server root: %s

Objects within a file are selected by the "uri" query string, default "/".  Data
can be sliced with numpy basic indexing through the "ixstr" query string, e.g.,
ixstr=0,10:20,::-2

GET  /api/help
	This help page.

GET  /api/server/info
	JSON of server version, engines, root and cache use.

GET  /api/engines
	JSON list of available storage engines.

POST /api/server/token
	Returns a JWT when POSTed {"user": "...", "secret": "..."} and authorization
	is enabled.

GET  /<format>/data/<path>?uri=/dset&ixstr=...&format=npy&compression=lz4
	Returns the selected data.  Output formats are npy (default), json, arrow
	(IPC stream) and msgpack.  The optional compression (snappy, lz4, gzip, zstd,
	zlib) is given in the Content-Encoding header for gzip and zstd and in the
	X-Ndv-Compression header otherwise.  A npy file requested without ixstr is
	returned unchanged.

GET  /<format>/meta/<path>?uri=/dset&ixstr=...&min_ndim=2&format=json
	Returns metadata of a dataset or group.  With ixstr, ndim, shape, size and
	labels describe the sliced result.  min_ndim pads the shape with 1s.

GET  /<format>/stats/<path>?uri=/dset&ixstr=...&format=json
	Returns nanmin, nanmax, nanmean and nanstd of the selected data.

GET  /<format>/contents/<path>?uri=/group&format=json
	Returns the metadata of every child of a group.

GET  /ws
	Websocket for JSON messages with "event" of connect, disconnect, json or
	get_data.
`

func initRoutes(mux *web.Mux) {
	mux.Use(middleware.EnvInit)
	mux.Use(requestID)
	mux.Use(middleware.Recoverer)
	mux.Use(isAuthorized)

	mux.Get(WebAPIPath+"help", helpHandler)
	mux.Get(WebAPIPath+"server/info", serverInfoHandler)
	mux.Get(WebAPIPath+"engines", enginesHandler)
	mux.Post(WebAPIPath+"server/token", serverTokenHandler)

	if ProfileEnabled() {
		mux.Get("/profiler/info.html", profiler.MemStatsHTMLHandler)
		mux.Get("/profiler/info", profiler.ProfilingInfoJSONHandler)
		mux.Get("/profiler/start", profiler.StartProfilingHandler)
		mux.Get("/profiler/stop", profiler.StopProfilingHandler)
	}

	mux.Get("/ws", websocket.Handler(socketHandler))

	mux.Get("/:format/data/*", dataHandler)
	mux.Get("/:format/meta/*", metaHandler)
	mux.Get("/:format/stats/*", statsHandler)
	mux.Get("/:format/contents/*", contentsHandler)

	mux.NotFound(notFoundHandler)
}

// BadRequest writes a standard error message to http.ResponseWriter with a 400 status.
func BadRequest(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	writeError(w, r, http.StatusBadRequest, format, args...)
}

// NotFound writes a standard error message to http.ResponseWriter with a 404 status.
func NotFound(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	writeError(w, r, http.StatusNotFound, format, args...)
}

func Unauthorized(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	writeError(w, r, http.StatusUnauthorized, format, args...)
}

func Forbidden(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	writeError(w, r, http.StatusForbidden, format, args...)
}

func ServerError(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	writeError(w, r, http.StatusInternalServerError, format, args...)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	errorMsg := fmt.Sprintf("%s (%s).", message, r.URL.Path)
	ndv.Errorf("%s\n", errorMsg)
	http.Error(w, errorMsg, status)
}

var errBadRequest = errors.New("bad request")

// HandleError writes an error with a status determined by its cause.
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		NotFound(w, r, "%v", err)
	case errors.Is(err, errBadRequest),
		errors.Is(err, ndv.ErrBadIndex),
		errors.Is(err, chunk.ErrNotDataset),
		errors.Is(err, chunk.ErrNotGroup),
		errors.Is(err, chunk.ErrNotNumeric),
		errors.Is(err, storage.ErrUnsupported),
		errors.Is(err, storage.ErrBadURI),
		errors.Is(err, chunk.ErrTooLarge):
		BadRequest(w, r, "%v", err)
	default:
		ServerError(w, r, "%v", err)
	}
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	NotFound(w, r, "no route for %s %s", r.Method, r.URL.Path)
}

func helpHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, WebHelp, Version, Root())
}

type engineInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

func engineInfos() []engineInfo {
	var infos []engineInfo
	for _, e := range storage.Engines() {
		infos = append(infos, engineInfo{e.GetName(), e.GetDescription(), e.GetSemVer().String()})
	}
	return infos
}

func enginesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, engineInfos())
}

func serverInfoHandler(w http.ResponseWriter, r *http.Request) {
	info := struct {
		Version    string          `json:"version"`
		APIVersion string          `json:"apiVersion"`
		GitVersion string          `json:"gitVersion"`
		Engines    []engineInfo    `json:"engines"`
		Root       string          `json:"root"`
		Note       string          `json:"note"`
		Uptime     string          `json:"uptime"`
		Started    string          `json:"started"`
		Auth       bool            `json:"auth"`
		Cache      CacheStats      `json:"cache"`
		IO         storage.IOStats `json:"io"`
	}{
		Version:    Version.String(),
		APIVersion: WebAPIVersion,
		GitVersion: gitVersion,
		Engines:    engineInfos(),
		Root:       Root(),
		Note:       Note(),
		Uptime:     time.Since(startTime).Truncate(time.Second).String(),
		Started:    humanize.Time(startTime),
		Auth:       AuthEnabled(),
		Cache:      getCacheStats(),
		IO:         storage.ReadStats(),
	}
	writeJSON(w, r, info)
}

func writeJSON(w http.ResponseWriter, r *http.Request, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		ServerError(w, r, "unable to encode JSON: %v", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// arrayRequest holds the parsed parameters of a request for a file object.
type arrayRequest struct {
	engine   string
	path     string
	uri      string
	ixstr    string
	encoding chunk.Format
	minNDim  int
}

func parseArrayRequest(c web.C, r *http.Request, def chunk.Format) (arrayRequest, error) {
	var req arrayRequest
	req.engine = c.URLParams["format"]
	if _, err := storage.GetEngine(req.engine); err != nil {
		return req, err
	}
	key, err := storage.CleanKey(c.URLParams["*"])
	if err != nil {
		return req, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	req.path = key

	query := r.URL.Query()
	if req.uri, err = storage.ParseURI(query.Get("uri")); err != nil {
		return req, err
	}
	req.ixstr = strings.TrimSpace(query.Get("ixstr"))
	if req.encoding, err = chunk.ParseFormat(query.Get("format"), def); err != nil {
		return req, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if s := query.Get("min_ndim"); s != "" {
		if req.minNDim, err = strconv.Atoi(s); err != nil || req.minNDim < 0 {
			return req, fmt.Errorf("%w: min_ndim must be a non-negative integer, got %q", errBadRequest, s)
		}
	}
	return req, nil
}

func (req arrayRequest) cacheKey(op string, modTime int64) cacheKey {
	return cacheKey{op, req.engine, req.path, modTime, req.uri, req.ixstr, req.encoding.String(), req.minNDim}
}

// getNode opens the requested file and returns the object at the request's uri.
// The returned file must be closed by the caller.
func getNode(ctx context.Context, req arrayRequest) (storage.File, storage.Node, error) {
	f, err := store.OpenFile(ctx, req.engine, req.path)
	if err != nil {
		return nil, nil, err
	}
	node, err := f.Get(ctx, req.uri)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, node, nil
}

// writeBody writes a response and logs its size.
func writeBody(w http.ResponseWriter, r *http.Request, contentType string, data []byte, timedLog ndv.TimeLog) {
	w.Header().Set("Content-Type", contentType)
	if _, err := w.Write(data); err != nil {
		ndv.Errorf("unable to write response to %s: %v\n", r.URL, err)
		return
	}
	timedLog.Infof("HTTP %s: %s (%s)", r.Method, r.URL, humanize.Bytes(uint64(len(data))))
}

// rawNpy streams an unmodified npy file.
func rawNpy(w http.ResponseWriter, r *http.Request, req arrayRequest, timedLog ndv.TimeLog) {
	if req.uri != "/" {
		NotFound(w, r, "npy files only hold %q, not %q", "/", req.uri)
		return
	}
	reader, err := store.NewReader(r.Context(), req.path)
	if err != nil {
		HandleError(w, r, err)
		return
	}
	defer reader.Close()
	w.Header().Set("Content-Type", chunk.FormatNpy.ContentType())
	w.Header().Set("Content-Length", strconv.FormatInt(reader.Size(), 10))
	n, err := io.Copy(w, reader)
	if err != nil {
		ndv.Errorf("unable to stream %s: %v\n", req.path, err)
		return
	}
	timedLog.Infof("HTTP %s: %s (%s raw)", r.Method, r.URL, humanize.Bytes(uint64(n)))
}

func dataHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	timedLog := ndv.NewTimeLog()
	req, err := parseArrayRequest(c, r, chunk.FormatNpy)
	if err != nil {
		HandleError(w, r, err)
		return
	}
	compression, err := ndv.ParseCompression(r.URL.Query().Get("compression"))
	if err != nil || compression == ndv.Bzip2 {
		BadRequest(w, r, "compression must be one of snappy, lz4, gzip, zstd or zlib")
		return
	}

	f, node, err := getNode(r.Context(), req)
	if err != nil {
		HandleError(w, r, err)
		return
	}
	defer f.Close()
	ds, err := chunk.AsDataset(node)
	if err != nil {
		HandleError(w, r, err)
		return
	}
	if !ds.DataType().Numeric() {
		HandleError(w, r, fmt.Errorf("%w: %s in %s has dtype %s", chunk.ErrNotNumeric, req.uri, req.path, ds.DataType()))
		return
	}
	if req.engine == "npy" && req.ixstr == "" && req.encoding == chunk.FormatNpy && compression == ndv.Uncompressed {
		rawNpy(w, r, req, timedLog)
		return
	}
	arr, _, err := chunk.ExtractLimited(r.Context(), ds, req.ixstr, MaxExtractBytes())
	if err != nil {
		HandleError(w, r, err)
		return
	}
	if ndv.LogMode() == ndv.DebugMode {
		ndv.Debugf("extracted %s %v array from %s%s using %s of memory\n",
			arr.DType, arr.Shape, req.path, req.uri, humanize.Bytes(uint64(size.Of(arr))))
	}

	var buf bytes.Buffer
	if err := chunk.EncodeArray(&buf, arr, req.encoding); err != nil {
		BadRequest(w, r, "unable to encode %s data as %s: %v", arr.DType, req.encoding, err)
		return
	}
	data := buf.Bytes()
	if compression != ndv.Uncompressed {
		if data, err = ndv.Compress(data, compression); err != nil {
			ServerError(w, r, "unable to compress data: %v", err)
			return
		}
		switch compression {
		case ndv.Gzip, ndv.Zstd:
			w.Header().Set("Content-Encoding", compression.Name())
		default:
			w.Header().Set("X-Ndv-Compression", compression.Name())
		}
	}
	writeBody(w, r, req.encoding.ContentType(), data, timedLog)
}

// cachedResponse returns a cached response or computes, caches and returns it.
func cachedResponse(ctx context.Context, req arrayRequest, op string, compute func() ([]byte, error)) ([]byte, error) {
	var key cacheKey
	useCache := cacheable(req.engine)
	if useCache {
		modTime, err := fileModTime(ctx, req.path)
		if err != nil {
			return nil, err
		}
		key = req.cacheKey(op, modTime)
		if data, found := cacheGet(key); found {
			return data, nil
		}
	}
	data, err := compute()
	if err != nil {
		return nil, err
	}
	if useCache {
		cacheSet(key, data)
	}
	return data, nil
}

// encodeMeta writes JSON or msgpack encodings of things with both.
func encodeMeta(v interface {
	json.Marshaler
	msgp.Marshaler
}, f chunk.Format) ([]byte, error) {
	switch f {
	case chunk.FormatJSON:
		return json.Marshal(v)
	case chunk.FormatMsgpack:
		return v.MarshalMsg(nil)
	}
	return nil, fmt.Errorf("format %s not available, use json or msgpack", f)
}

func metaHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	timedLog := ndv.NewTimeLog()
	req, err := parseArrayRequest(c, r, chunk.FormatJSON)
	if err != nil {
		HandleError(w, r, err)
		return
	}
	if req.encoding != chunk.FormatJSON && req.encoding != chunk.FormatMsgpack {
		BadRequest(w, r, "metadata is only available as json or msgpack")
		return
	}
	data, err := cachedResponse(r.Context(), req, "meta", func() ([]byte, error) {
		f, node, err := getNode(r.Context(), req)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		meta, err := chunk.Describe(node, req.ixstr, chunk.Options{MinNDim: req.minNDim})
		if err != nil {
			return nil, err
		}
		return encodeMeta(meta, req.encoding)
	})
	if err != nil {
		HandleError(w, r, err)
		return
	}
	writeBody(w, r, req.encoding.ContentType(), data, timedLog)
}

func statsHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	timedLog := ndv.NewTimeLog()
	req, err := parseArrayRequest(c, r, chunk.FormatJSON)
	if err != nil {
		HandleError(w, r, err)
		return
	}
	if req.encoding != chunk.FormatJSON && req.encoding != chunk.FormatMsgpack {
		BadRequest(w, r, "statistics are only available as json or msgpack")
		return
	}
	data, err := cachedResponse(r.Context(), req, "stats", func() ([]byte, error) {
		stats, err := computeStats(r.Context(), req)
		if err != nil {
			return nil, err
		}
		return encodeMeta(stats, req.encoding)
	})
	if err != nil {
		HandleError(w, r, err)
		return
	}
	writeBody(w, r, req.encoding.ContentType(), data, timedLog)
}

func computeStats(ctx context.Context, req arrayRequest) (chunk.Stats, error) {
	f, node, err := getNode(ctx, req)
	if err != nil {
		return chunk.Stats{}, err
	}
	defer f.Close()
	ds, err := chunk.AsDataset(node)
	if err != nil {
		return chunk.Stats{}, err
	}
	if !ds.DataType().Numeric() {
		return chunk.Stats{}, fmt.Errorf("%w: %s in %s has dtype %s", chunk.ErrNotNumeric, req.uri, req.path, ds.DataType())
	}
	arr, _, err := chunk.ExtractLimited(ctx, ds, req.ixstr, MaxExtractBytes())
	if err != nil {
		return chunk.Stats{}, err
	}
	return chunk.ComputeStats(arr)
}

func contentsHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	timedLog := ndv.NewTimeLog()
	req, err := parseArrayRequest(c, r, chunk.FormatJSON)
	if err != nil {
		HandleError(w, r, err)
		return
	}
	f, err := store.OpenFile(r.Context(), req.engine, req.path)
	if err != nil {
		HandleError(w, r, err)
		return
	}
	defer f.Close()
	metas, err := chunk.Contents(r.Context(), f, req.uri, chunk.Options{MinNDim: req.minNDim})
	if err != nil {
		HandleError(w, r, err)
		return
	}
	var data []byte
	switch req.encoding {
	case chunk.FormatJSON:
		if metas == nil {
			metas = []chunk.Meta{}
		}
		data, err = json.Marshal(metas)
	case chunk.FormatMsgpack:
		data = msgp.AppendArrayHeader(nil, uint32(len(metas)))
		for _, m := range metas {
			if data, err = m.MarshalMsg(data); err != nil {
				break
			}
		}
	default:
		BadRequest(w, r, "contents are only available as json or msgpack")
		return
	}
	if err != nil {
		ServerError(w, r, "unable to encode contents: %v", err)
		return
	}
	writeBody(w, r, req.encoding.ContentType(), data, timedLog)
}
