/*
Package server provides the HTTP and websocket interfaces to ndv.  Requests name
a storage engine, a file under the configured root, an object within the file, and
optionally a numpy-style index string:

	GET /:format/data/<file>?uri=/path/to/dataset&ixstr=0,10:20,::-2
	GET /:format/meta/<file>?uri=/path
	GET /:format/stats/<file>?uri=/path&ixstr=...
	GET /:format/contents/<file>?uri=/group

Array data can be returned as npy, JSON, Arrow IPC streams, or msgpack, selected by
the "format" query string.  Metadata and statistics responses for HDF5 and npy files
are cached in memory keyed by the file modification time.  Zarr responses are not
cached since each array and group has its own metadata objects.

Server configuration is read from a TOML file; see LoadConfig.  If a secret key and
authorization file are configured, requests other than help and server info need a
JWT obtained from POST /api/server/token.
*/
package server
