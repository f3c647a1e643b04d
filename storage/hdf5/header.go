package hdf5

import (
	"encoding/binary"
	"fmt"
	"io"
)

// The reader library summarizes a dataset's datatype without its sign or byte
// order, so those bits are taken from the datatype message of the object header.

const (
	msgDatatype     = 0x0003
	msgContinuation = 0x0010

	// datatype class bit field flags for fixed-point and floating-point classes
	bitBigEndian = 0x01
	bitSigned    = 0x08

	maxHeaderBlocks = 64
)

// datatypeMessage is the raw datatype message of an object header and its file offset.
type datatypeMessage struct {
	class  uint8
	bits   uint32
	size   uint32
	offset int64
}

func (m datatypeMessage) signed() bool {
	return m.bits&bitSigned != 0
}

func (m datatypeMessage) bigEndian() bool {
	return m.bits&bitBigEndian != 0
}

type headerBlock struct {
	addr, size uint64
	v2         bool
}

// readDatatypeMessage finds the datatype message in the object header at addr.
// Version 1 and 2 headers are supported, including continuation blocks.
func readDatatypeMessage(r io.ReaderAt, addr uint64, offsetSize, lengthSize int) (datatypeMessage, error) {
	prefix := make([]byte, 16)
	if err := readFull(r, prefix, addr); err != nil {
		return datatypeMessage{}, fmt.Errorf("unable to read object header at %d: %v", addr, err)
	}
	var blocks []headerBlock
	var v2Flags uint8
	switch {
	case string(prefix[:4]) == "OHDR":
		v2Flags = prefix[5]
		pos := addr + 6
		if v2Flags&0x20 != 0 {
			pos += 16
		}
		if v2Flags&0x10 != 0 {
			pos += 4
		}
		n := 1 << (v2Flags & 0x03)
		sizeBuf := make([]byte, n)
		if err := readFull(r, sizeBuf, pos); err != nil {
			return datatypeMessage{}, fmt.Errorf("unable to read object header chunk size: %v", err)
		}
		blocks = append(blocks, headerBlock{addr: pos + uint64(n), size: decodeUint(sizeBuf), v2: true})
	case prefix[0] == 1:
		size := uint64(binary.LittleEndian.Uint32(prefix[8:12]))
		blocks = append(blocks, headerBlock{addr: addr + 16, size: size})
	default:
		return datatypeMessage{}, fmt.Errorf("unknown object header version at %d", addr)
	}

	for i := 0; i < len(blocks) && i < maxHeaderBlocks; i++ {
		b := blocks[i]
		buf := make([]byte, b.size)
		if err := readFull(r, buf, b.addr); err != nil {
			return datatypeMessage{}, fmt.Errorf("unable to read object header block at %d: %v", b.addr, err)
		}
		start := b.addr
		if b.v2 && i > 0 {
			// continuation chunks are "OCHK" + messages + checksum
			if len(buf) < 8 || string(buf[:4]) != "OCHK" {
				return datatypeMessage{}, fmt.Errorf("bad object header continuation at %d", b.addr)
			}
			buf, start = buf[4:len(buf)-4], start+4
		}
		pos := 0
		for {
			var typ, n, hdr int
			if b.v2 {
				hdr = 4
				if v2Flags&0x04 != 0 {
					hdr += 2
				}
				if pos+hdr > len(buf) {
					break
				}
				typ = int(buf[pos])
				n = int(binary.LittleEndian.Uint16(buf[pos+1:]))
			} else {
				hdr = 8
				if pos+hdr > len(buf) {
					break
				}
				typ = int(binary.LittleEndian.Uint16(buf[pos:]))
				n = int(binary.LittleEndian.Uint16(buf[pos+2:]))
			}
			data := pos + hdr
			if data+n > len(buf) {
				break
			}
			switch typ {
			case msgDatatype:
				if n < 8 {
					return datatypeMessage{}, fmt.Errorf("short datatype message of %d bytes", n)
				}
				msg := buf[data : data+8]
				return datatypeMessage{
					class:  msg[0] & 0x0f,
					bits:   uint32(msg[1]) | uint32(msg[2])<<8 | uint32(msg[3])<<16,
					size:   binary.LittleEndian.Uint32(msg[4:8]),
					offset: int64(start) + int64(data),
				}, nil
			case msgContinuation:
				if n >= offsetSize+lengthSize {
					cont := buf[data : data+n]
					blocks = append(blocks, headerBlock{
						addr: decodeUint(cont[:offsetSize]),
						size: decodeUint(cont[offsetSize : offsetSize+lengthSize]),
						v2:   b.v2,
					})
				}
			}
			pos = data + n
		}
	}
	return datatypeMessage{}, fmt.Errorf("no datatype message in object header at %d", addr)
}

func readFull(r io.ReaderAt, buf []byte, addr uint64) error {
	n, err := r.ReadAt(buf, int64(addr))
	if n == len(buf) {
		return nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return err
}

// decodeUint decodes a little-endian unsigned integer of 1 to 8 bytes.
func decodeUint(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
