package engine

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const directAlignment = 512

// readStripe fills S.data for a stripe formed by nextStripe. A hole stripe
// (S.isHole) never touches the device: it is a zero-filled buffer sized to
// exactly the one synthetic BlockRec it stands in for. Otherwise one
// positioned read covers the stripe's whole physical span, padded up to a
// 512-byte multiple when direct is set, as O_DIRECT requires for both the
// buffer and the read length regardless of the device's own block size.
func readStripe(fd int, blockSize uint32, direct bool, s *Stripe, logger Logger) error {
	if s.isHole {
		s.data = make([]byte, s.byteLen)
		return nil
	}

	readLen := s.byteLen
	if direct {
		readLen = roundUp(readLen, directAlignment)
	}

	buf := alignedBuffer(readLen, directAlignment)
	offset := int64(s.physicalStart) * int64(blockSize)

	n, err := unix.Pread(fd, buf, offset)
	if err != nil {
		return &FatalConfigError{Op: "read stripe", Err: err}
	}
	if uint64(n) < s.byteLen {
		logger.Warnf("short read at physical block %d: got %d bytes, wanted %d", s.physicalStart, n, s.byteLen)
	}

	s.data = buf
	return nil
}

func roundUp(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}

// alignedBuffer returns a slice of size n whose first byte sits on an
// align-byte boundary, the emulation spec §9 calls out for languages with
// no posix_memalign equivalent: over-allocate and slice.
func alignedBuffer(n, align uint64) []byte {
	buf := make([]byte, n+align)
	offset := uintptr(0)
	if rem := uintptrOf(buf) % uintptr(align); rem != 0 {
		offset = uintptr(align) - rem
	}
	return buf[offset : offset+uintptr(n) : offset+uintptr(n)]
}

func uintptrOf(buf []byte) uintptr {
	if len(buf) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&buf[0]))
}
