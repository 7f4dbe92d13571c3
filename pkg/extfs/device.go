package extfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// RootInode is the well-known inode number of the filesystem root directory,
// fixed across the ext2/3/4 family.
const RootInode = 2

// FS is a handle onto an ext2/3/4 filesystem's metadata, opened read-only
// against a raw block device or image file. It owns its own file descriptor,
// separate from whatever descriptor the engine uses for bulk data reads
// (§4.5), the same separation ext2fs_open and a raw open(2) have in the
// original implementation.
type FS struct {
	f          *os.File
	superblock *Superblock
	bgdt       []BlockGroupDescriptor
}

// Open opens the device at path and reads its superblock eagerly, so a bad
// device path or a non-ext signature fails fast as a fatal-config error
// rather than lazily on first use.
func Open(path string) (*FS, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &FatalConfigError{Op: "open device", Err: err}
	}

	fs := &FS{f: f}
	if _, err := fs.readSuperblock(); err != nil {
		f.Close()
		return nil, err
	}

	return fs, nil
}

// Close closes the underlying device descriptor.
func (fs *FS) Close() error {
	return fs.f.Close()
}

// BlockSize returns the filesystem's block size in bytes.
func (fs *FS) BlockSize() uint32 {
	return fs.superblock.BlockSize()
}

// readAt fills buf entirely from offset. A short read is always an error
// here, even when the underlying error is io.EOF with some bytes already
// copied into buf: every caller decodes a fixed-size metadata record
// (superblock, block group descriptor table, inode, data block) and a
// partially-filled buffer would decode into a plausible-looking but wrong
// value instead of failing.
func (fs *FS) readAt(buf []byte, offset int64) error {
	n, err := fs.f.ReadAt(buf, offset)
	if n < len(buf) {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return err
	}
	return nil
}

func (fs *FS) readSuperblock() (*Superblock, error) {
	buf := make([]byte, 84)
	if err := fs.readAt(buf, SuperblockOffset); err != nil {
		return nil, &FatalConfigError{Op: "read superblock", Err: err}
	}

	sb := new(Superblock)
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, sb); err != nil {
		return nil, &FatalConfigError{Op: "decode superblock", Err: err}
	}

	if sb.Signature != Signature {
		return nil, &FatalConfigError{Op: "read superblock",
			Err: fmt.Errorf("no ext2/3/4 signature found at offset %d", SuperblockOffset)}
	}
	if sb.BlocksPerGroup == 0 || sb.InodesPerGroup == 0 {
		return nil, &FatalConfigError{Op: "read superblock",
			Err: fmt.Errorf("corrupt superblock: blocks_per_group=%d inodes_per_group=%d", sb.BlocksPerGroup, sb.InodesPerGroup)}
	}

	fs.superblock = sb
	return sb, nil
}

// loadBGDT loads (and caches) the block group descriptor table, which
// starts in the block after the superblock's own block (block 2 for a
// 1024-byte filesystem, block 1 otherwise).
func (fs *FS) loadBGDT() ([]BlockGroupDescriptor, error) {
	if fs.bgdt != nil {
		return fs.bgdt, nil
	}

	sb := fs.superblock
	blockSize := int64(sb.BlockSize())

	bgdtBlock := int64(2)
	if blockSize > 1024 {
		bgdtBlock = 1
	}

	groups := (sb.TotalBlocks + sb.BlocksPerGroup - 1) / sb.BlocksPerGroup
	const descSize = 32
	buf := make([]byte, int(groups)*descSize)
	if err := fs.readAt(buf, bgdtBlock*blockSize); err != nil {
		return nil, &FatalConfigError{Op: "read block group descriptor table", Err: err}
	}

	bgdt := make([]BlockGroupDescriptor, groups)
	r := bytes.NewReader(buf)
	for i := range bgdt {
		if err := binary.Read(r, binary.LittleEndian, &bgdt[i]); err != nil {
			return nil, &FatalConfigError{Op: "decode block group descriptor table", Err: err}
		}
	}

	fs.bgdt = bgdt
	return bgdt, nil
}

// readBlock reads one full filesystem block (logical to the device, not to
// any inode) into a freshly allocated buffer.
func (fs *FS) readBlock(physical uint64) ([]byte, error) {
	blockSize := int64(fs.BlockSize())
	buf := make([]byte, blockSize)
	if physical == 0 {
		return buf, nil
	}
	if err := fs.readAt(buf, int64(physical)*blockSize); err != nil {
		return nil, err
	}
	return buf, nil
}
