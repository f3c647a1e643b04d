/*
	Package npy implements the numpy .npy array file format and a storage engine for
	flat array files.

	The format is a magic string, a version, a little-endian header length, and a Python
	dict literal giving the element type, memory order, and shape, followed by the raw
	element buffer.  See numpy.lib.format for details.
*/
package npy

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/ndvserve/ndv/ndv"
)

// ContentType is used for npy HTTP responses.
const ContentType = "application/octet-stream"

var magic = []byte("\x93NUMPY")

// prefixLen is the number of bytes preceding the header length field.
const prefixLen = 8

// Header is the decoded header of an npy file.
type Header struct {
	Major        byte
	Minor        byte
	DType        ndv.DataType
	FortranOrder bool
	Shape        []int

	// DataOffset is the byte offset of the element buffer.
	DataOffset int64
}

// DataSize is the number of bytes in the element buffer.
func (h Header) DataSize() int64 {
	return int64(ndv.NumElements(h.Shape)) * int64(h.DType.Size)
}

// headerLength returns the number of header dict bytes and the offset at which
// they start, given at least the first 12 bytes of a file.
func headerLength(prefix []byte) (major, minor byte, n int64, offset int64, err error) {
	if len(prefix) < 10 || !bytes.Equal(prefix[:6], magic) {
		err = fmt.Errorf("not an npy file: bad magic string")
		return
	}
	major, minor = prefix[6], prefix[7]
	switch major {
	case 1:
		n, offset = int64(binary.LittleEndian.Uint16(prefix[8:10])), 10
	case 2, 3:
		if len(prefix) < 12 {
			err = fmt.Errorf("npy file truncated in header")
			return
		}
		n, offset = int64(binary.LittleEndian.Uint32(prefix[8:12])), 12
	default:
		err = fmt.Errorf("unsupported npy format version %d.%d", major, minor)
	}
	return
}

// ReadHeader reads and parses an npy header.
func ReadHeader(r io.Reader) (Header, error) {
	prefix := make([]byte, 12)
	if _, err := io.ReadFull(r, prefix[:10]); err != nil {
		return Header{}, fmt.Errorf("unable to read npy header: %v", err)
	}
	if prefix[6] >= 2 {
		if _, err := io.ReadFull(r, prefix[10:]); err != nil {
			return Header{}, fmt.Errorf("unable to read npy header: %v", err)
		}
	}
	major, minor, n, offset, err := headerLength(prefix)
	if err != nil {
		return Header{}, err
	}
	dict := make([]byte, n)
	if _, err := io.ReadFull(r, dict); err != nil {
		return Header{}, fmt.Errorf("unable to read npy header dict: %v", err)
	}
	h, err := parseHeaderDict(string(dict))
	if err != nil {
		return Header{}, err
	}
	h.Major, h.Minor = major, minor
	h.DataOffset = offset + n
	return h, nil
}

// ParseHeader parses a header from the start of a file's contents.  If the buffer
// is too short, the number of bytes required is returned with a nil error.
func ParseHeader(head []byte) (h Header, need int64, err error) {
	if len(head) < 12 {
		return Header{}, 12, nil
	}
	major, minor, n, offset, err := headerLength(head)
	if err != nil {
		return Header{}, 0, err
	}
	if int64(len(head)) < offset+n {
		return Header{}, offset + n, nil
	}
	h, err = parseHeaderDict(string(head[offset : offset+n]))
	if err != nil {
		return Header{}, 0, err
	}
	h.Major, h.Minor = major, minor
	h.DataOffset = offset + n
	return h, 0, nil
}

// Decode reads an entire npy file into a C-ordered array.
func Decode(r io.Reader) (*ndv.Array, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	return decodeData(h, r)
}

func decodeData(h Header, r io.Reader) (*ndv.Array, error) {
	shape := h.Shape
	if h.FortranOrder {
		shape = reversed(shape)
	}
	arr := ndv.NewArray(h.DType, shape)
	if _, err := io.ReadFull(r, arr.Data); err != nil {
		return nil, fmt.Errorf("npy data truncated, expected %d bytes: %v", len(arr.Data), err)
	}
	if h.FortranOrder {
		arr = arr.Transpose()
	}
	return arr, nil
}

func reversed(shape []int) []int {
	out := make([]int, len(shape))
	for i, d := range shape {
		out[len(shape)-1-i] = d
	}
	return out
}

// Encode writes a C-ordered array as an npy file.
func Encode(w io.Writer, arr *ndv.Array) error {
	header := EncodeHeader(arr.DType, arr.Shape)
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(arr.Data)
	return err
}

// Marshal returns the npy encoding of an array.
func Marshal(arr *ndv.Array) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(arr.Data) + 128)
	if err := Encode(&buf, arr); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeHeader returns the magic string, version, and padded header for an array.
func EncodeHeader(dtype ndv.DataType, shape []int) []byte {
	var dims []string
	for _, d := range shape {
		dims = append(dims, strconv.Itoa(d))
	}
	shapeStr := "(" + strings.Join(dims, ", ")
	if len(shape) == 1 {
		shapeStr += ","
	}
	shapeStr += ")"
	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': %s, }", dtype, shapeStr)

	major, lenBytes := byte(1), 2
	if len(dict)+1+prefixLen+lenBytes > 65535 {
		major, lenBytes = 2, 4
	}
	total := prefixLen + lenBytes + len(dict) + 1
	if rem := total % 64; rem != 0 {
		dict += strings.Repeat(" ", 64-rem)
	}
	dict += "\n"

	out := make([]byte, 0, prefixLen+lenBytes+len(dict))
	out = append(out, magic...)
	out = append(out, major, 0)
	if lenBytes == 2 {
		out = binary.LittleEndian.AppendUint16(out, uint16(len(dict)))
	} else {
		out = binary.LittleEndian.AppendUint32(out, uint32(len(dict)))
	}
	return append(out, dict...)
}

// --- header dict parsing ---

type dictParser struct {
	s   string
	pos int
}

func parseHeaderDict(s string) (Header, error) {
	var h Header
	p := &dictParser{s: s}
	vals, err := p.parseDict()
	if err != nil {
		return h, fmt.Errorf("bad npy header %q: %v", strings.TrimSpace(s), err)
	}
	descr, ok := vals["descr"].(string)
	if !ok {
		return h, fmt.Errorf("npy header lacks a simple 'descr' (structured arrays are not supported)")
	}
	if h.DType, err = ndv.ParseDataType(descr); err != nil {
		return h, err
	}
	fortran, ok := vals["fortran_order"].(bool)
	if !ok {
		return h, fmt.Errorf("npy header lacks 'fortran_order'")
	}
	h.FortranOrder = fortran
	shape, ok := vals["shape"].([]int)
	if !ok {
		return h, fmt.Errorf("npy header lacks 'shape'")
	}
	h.Shape = shape
	return h, nil
}

func (p *dictParser) skipSpace() {
	for p.pos < len(p.s) && unicode.IsSpace(rune(p.s[p.pos])) {
		p.pos++
	}
}

func (p *dictParser) expect(c byte) error {
	p.skipSpace()
	if p.pos >= len(p.s) || p.s[p.pos] != c {
		return fmt.Errorf("expected %q at offset %d", c, p.pos)
	}
	p.pos++
	return nil
}

func (p *dictParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.s) {
		return 0
	}
	return p.s[p.pos]
}

func (p *dictParser) parseDict() (map[string]interface{}, error) {
	if err := p.expect('{'); err != nil {
		return nil, err
	}
	vals := make(map[string]interface{})
	for {
		if p.peek() == '}' {
			p.pos++
			return vals, nil
		}
		key, err := p.parseString()
		if err != nil {
			return nil, err
		}
		if err := p.expect(':'); err != nil {
			return nil, err
		}
		val, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		vals[key] = val
		switch p.peek() {
		case ',':
			p.pos++
		case '}':
		default:
			return nil, fmt.Errorf("expected ',' or '}' at offset %d", p.pos)
		}
	}
}

func (p *dictParser) parseString() (string, error) {
	q := p.peek()
	if q != '\'' && q != '"' {
		return "", fmt.Errorf("expected string at offset %d", p.pos)
	}
	end := strings.IndexByte(p.s[p.pos+1:], q)
	if end < 0 {
		return "", fmt.Errorf("unterminated string at offset %d", p.pos)
	}
	str := p.s[p.pos+1 : p.pos+1+end]
	p.pos += end + 2
	return str, nil
}

func (p *dictParser) parseValue() (interface{}, error) {
	switch c := p.peek(); {
	case c == '\'' || c == '"':
		return p.parseString()
	case c == '(':
		return p.parseTuple()
	case c == '[':
		return nil, fmt.Errorf("structured data types are not supported")
	case strings.HasPrefix(p.s[p.pos:], "True"):
		p.pos += 4
		return true, nil
	case strings.HasPrefix(p.s[p.pos:], "False"):
		p.pos += 5
		return false, nil
	}
	return nil, fmt.Errorf("unexpected value at offset %d", p.pos)
}

func (p *dictParser) parseTuple() ([]int, error) {
	if err := p.expect('('); err != nil {
		return nil, err
	}
	dims := []int{}
	for {
		c := p.peek()
		if c == ')' {
			p.pos++
			return dims, nil
		}
		start := p.pos
		for p.pos < len(p.s) && (p.s[p.pos] >= '0' && p.s[p.pos] <= '9') {
			p.pos++
		}
		// Python 2 era files may write long integers as "3L".
		numStr := p.s[start:p.pos]
		if p.pos < len(p.s) && p.s[p.pos] == 'L' {
			p.pos++
		}
		d, err := strconv.Atoi(numStr)
		if err != nil {
			return nil, fmt.Errorf("bad dimension at offset %d", start)
		}
		dims = append(dims, d)
		switch p.peek() {
		case ',':
			p.pos++
		case ')':
		default:
			return nil, fmt.Errorf("expected ',' or ')' at offset %d", p.pos)
		}
	}
}
