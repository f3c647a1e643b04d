/*
	Package ndv provides types, constants, and functions that have no other dependencies
	and can be used by all packages within ndv.  This includes n-d array buffers, numpy
	data types, index expression parsing and resolution, compression, and logging.  Since
	these elements are used by the storage engines, the chunk extraction layer, and the
	HTTP server, we keep them here free of any format-specific code.
*/
package ndv
