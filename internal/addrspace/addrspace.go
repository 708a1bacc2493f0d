// Package addrspace provides a byte-addressable virtual memory abstraction.
// Reads are total: bytes that were never written read as zero, so decoders can
// read any address without a separate bounds check.
package addrspace

const (
	pageShift = 12
	pageSize  = 1 << pageShift
	pageMask  = pageSize - 1
)

// Reader is the read side of an address space.
type Reader interface {
	// Read fills buf with the bytes starting at addr. Unpopulated bytes are
	// zero. Read never fails.
	Read(addr uint64, buf []byte)
}

// Segment is a loadable range of bytes placed at a virtual address.
type Segment struct {
	Addr uint64
	Data []byte
}

// End returns the address immediately after the last byte of the segment.
func (s Segment) End() uint64 {
	return s.Addr + uint64(len(s.Data))
}

type page [pageSize]byte

// Sparse is a page-sparse address space covering the full 64-bit range.
// The zero value is an empty space ready for use.
type Sparse struct {
	pages map[uint64]*page
}

// New returns an empty address space.
func New() *Sparse {
	return &Sparse{pages: make(map[uint64]*page)}
}

// Flat returns an address space holding data loaded at base.
func Flat(base uint64, data []byte) *Sparse {
	return New().Load(base, data)
}

// FromSegments overlays segs in order; later segments overwrite earlier
// ones where they overlap.
func FromSegments(segs []Segment) *Sparse {
	s := New()
	for _, seg := range segs {
		s.Load(seg.Addr, seg.Data)
	}
	return s
}

// SetByte sets the byte at addr.
func (s *Sparse) SetByte(addr uint64, b byte) {
	p := s.page(addr>>pageShift, b != 0)
	if p == nil {
		return
	}
	p[addr&pageMask] = b
}

// Load copies data into the space starting at addr and returns s for
// chaining. Addresses past 2^64-1 wrap to zero.
func (s *Sparse) Load(addr uint64, data []byte) *Sparse {
	for len(data) > 0 {
		off := addr & pageMask
		n := min(uint64(len(data)), pageSize-off)
		chunk := data[:n]
		if p := s.page(addr>>pageShift, !allZero(chunk)); p != nil {
			copy(p[off:], chunk)
		}
		data = data[n:]
		addr += n
	}
	return s
}

// Read implements Reader.
func (s *Sparse) Read(addr uint64, buf []byte) {
	for len(buf) > 0 {
		off := addr & pageMask
		n := min(uint64(len(buf)), pageSize-off)
		if p, ok := s.pages[addr>>pageShift]; ok {
			copy(buf[:n], p[off:off+n])
		} else {
			clear(buf[:n])
		}
		buf = buf[n:]
		addr += n
	}
}

// Len returns the number of populated pages.
func (s *Sparse) Len() int {
	return len(s.pages)
}

// page returns the page with the given number. A missing page is allocated
// only when create is set; writing zeros to an absent page is a no-op since
// it already reads as zero.
func (s *Sparse) page(n uint64, create bool) *page {
	if p, ok := s.pages[n]; ok {
		return p
	}
	if !create {
		return nil
	}
	if s.pages == nil {
		s.pages = make(map[uint64]*page)
	}
	p := new(page)
	s.pages[n] = p
	return p
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
