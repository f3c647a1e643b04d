/*
	Package chunk extracts slices of stored datasets and describes them.

	An index expression string such as "0, 10:20, ::-2" is resolved against a
	dataset's shape, the covering positive-stride region is read through the
	dataset's storage engine, and the result is flipped and reshaped in memory.
	The package also produces JSON-safe metadata, NaN-ignoring statistics, and the
	binary and text encodings returned by the HTTP API.
*/
package chunk
