package storage

import (
	"encoding/binary"
	"fmt"
)

// IntSize is the byte width used to encode an int field on a Page.
const IntSize = 8

// Page is a fixed-size in-memory buffer matching the on-disk layout of one
// Block. Integers and length-prefixed strings are written and read through
// it; everything else in this module builds on top of it.
type Page struct {
	buf     []byte
	maxSize int
}

func NewPageWithSize(size int) *Page {
	return &Page{buf: make([]byte, size), maxSize: size}
}

func NewPageWithSlice(buf []byte) *Page {
	return &Page{buf: buf, maxSize: len(buf)}
}

func (p *Page) assertSize(offset, size int) {
	if offset+size > p.maxSize {
		panic(fmt.Sprintf("storage: write out of page bounds: offset %d len %d, page size %d", offset, size, p.maxSize))
	}
}

// Contents returns the page's raw backing buffer.
func (p *Page) Contents() []byte {
	return p.buf
}

func (p *Page) SetInt(offset, val int) {
	p.assertSize(offset, IntSize)
	binary.LittleEndian.PutUint64(p.buf[offset:], uint64(val))
}

func (p *Page) GetInt(offset int) int {
	return int(binary.LittleEndian.Uint64(p.buf[offset : offset+IntSize]))
}

// SetBytes writes a length-prefixed byte slice at offset.
func (p *Page) SetBytes(offset int, data []byte) {
	p.assertSize(offset, IntSize+len(data))
	binary.LittleEndian.PutUint64(p.buf[offset:], uint64(len(data)))
	copy(p.buf[offset+IntSize:], data)
}

func (p *Page) GetBytes(offset int) []byte {
	size := int(binary.LittleEndian.Uint64(p.buf[offset : offset+IntSize]))
	from := offset + IntSize
	return p.buf[from : from+size]
}

func (p *Page) SetString(offset int, v string) {
	p.SetBytes(offset, []byte(v))
}

func (p *Page) GetString(offset int) string {
	return string(p.GetBytes(offset))
}

// MaxLength returns the number of bytes an encoded string/byte-slice of the
// given length occupies, including its length prefix.
func MaxLength(n int) int {
	return n + IntSize
}
