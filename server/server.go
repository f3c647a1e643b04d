package server

//go:generate go run ../cmd/ndv-gen-version -o version.go

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/blang/semver"
	"github.com/klauspost/compress/gzhttp"
	"github.com/ndvserve/ndv/ndv"
	"github.com/ndvserve/ndv/storage"
	"github.com/rs/cors"
	"github.com/twinj/uuid"
	"github.com/zenazn/goji/web"
	"github.com/zenazn/goji/web/middleware"

	// engines served by ndv
	_ "github.com/ndvserve/ndv/storage/hdf5"
	_ "github.com/ndvserve/ndv/storage/npy"
	_ "github.com/ndvserve/ndv/storage/zarr"
)

// Version is the semantic version of the ndv server API.
var Version = semver.MustParse("0.3.0")

var (
	// git-derived version, set by generated version.go
	gitVersion = "unknown"

	// store holding the files being served
	store *storage.Store

	// all routes and middleware
	mainMux *web.Mux

	// mainMux plus transport compression and CORS
	httpHandler http.Handler

	httpServer *http.Server
	startTime  time.Time

	serverMu sync.Mutex
)

// GitVersion returns the git description of the source used to build ndv.
func GitVersion() string {
	return gitVersion
}

// Initialize opens the configured root store and sets up the HTTP routes.  It
// should be called after the configuration is loaded.
func Initialize(ctx context.Context) error {
	serverMu.Lock()
	defer serverMu.Unlock()

	if store != nil {
		if err := store.Close(); err != nil {
			ndv.Errorf("unable to close previous store %s: %v\n", store, err)
		}
		store = nil
	}
	s, err := storage.OpenStore(ctx, Root())
	if err != nil {
		return fmt.Errorf("unable to open root %q: %v", Root(), err)
	}
	store = s

	if err := loadAuthFile(); err != nil {
		return fmt.Errorf("unable to load auth file %q: %v", tc.Auth.AuthFile, err)
	}
	initCache(CacheSize(MetaCacheID))

	mainMux = web.New()
	initRoutes(mainMux)

	var h http.Handler = mainMux
	if CompressData() {
		gz, err := gzhttp.NewWrapper(gzhttp.ContentTypes([]string{"application/octet-stream"}))
		if err != nil {
			return fmt.Errorf("unable to create gzip wrapper: %v", err)
		}
		h = gz(h)
	}
	c := cors.New(cors.Options{
		AllowedOrigins: CorsDomains(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		ExposedHeaders: []string{"Content-Encoding", "X-Ndv-Compression", "X-Request-Id"},
	})
	httpHandler = c.Handler(h)

	startTime = time.Now()
	ndv.Infof("Serving %s with engines: %s\n", store, storage.EnginesAvailable())
	return nil
}

// ServeSingleHTTP fulfills one request using the default mux.
func ServeSingleHTTP(w http.ResponseWriter, r *http.Request) {
	serverMu.Lock()
	h := httpHandler
	serverMu.Unlock()
	if h == nil {
		http.Error(w, "server not initialized", http.StatusServiceUnavailable)
		return
	}
	h.ServeHTTP(w, r)
}

// Serve listens for HTTP requests until Shutdown is called.
func Serve() error {
	serverMu.Lock()
	if httpHandler == nil {
		serverMu.Unlock()
		return fmt.Errorf("server must be initialized before serving")
	}
	httpServer = &http.Server{
		Addr:              HTTPAddress(),
		Handler:           http.HandlerFunc(ServeSingleHTTP),
		ReadHeaderTimeout: 30 * time.Second,
	}
	srv := httpServer
	serverMu.Unlock()

	ndv.Infof("Using %d of %d logical CPUs for ndv.\n", runtime.GOMAXPROCS(0), runtime.NumCPU())
	ndv.Infof("Web server listening at %s ...\n", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gives in-flight requests the configured delay to finish, then closes
// the server and store.
func Shutdown() {
	serverMu.Lock()
	defer serverMu.Unlock()

	if httpServer != nil {
		delay := time.Duration(ShutdownDelay()) * time.Second
		ndv.Infof("Shutting down web server, waiting up to %s for requests...\n", delay)
		ctx, cancel := context.WithTimeout(context.Background(), delay)
		if err := httpServer.Shutdown(ctx); err != nil {
			ndv.Errorf("web server shutdown: %v\n", err)
		}
		cancel()
		httpServer = nil
	}
	if store != nil {
		if err := store.Close(); err != nil {
			ndv.Errorf("unable to close store %s: %v\n", store, err)
		}
		store = nil
	}
	httpHandler = nil
}

// requestID tags each request and its response with a unique id.
func requestID(c *web.C, h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = fmt.Sprintf("%x", uuid.NewV4().Bytes())
		}
		c.Env[middleware.RequestIDKey] = id
		w.Header().Set("X-Request-Id", id)
		h.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}
