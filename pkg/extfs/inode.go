package extfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ReadInode loads and decodes a single inode record.
func (fs *FS) ReadInode(ino uint32) (Inode, error) {
	sb := fs.superblock

	bgdt, err := fs.loadBGDT()
	if err != nil {
		return Inode{}, err
	}

	bgno := (ino - 1) / sb.InodesPerGroup
	if int(bgno) >= len(bgdt) {
		return Inode{}, &FatalConfigError{Op: "read inode",
			Err: fmt.Errorf("inode %d falls outside block group table (%d groups)", ino, len(bgdt))}
	}
	inodeOffset := (ino - 1) % sb.InodesPerGroup

	blockSize := int64(sb.BlockSize())
	tableBlock := int64(bgdt[bgno].InodeTableBlockAddr)
	offset := tableBlock*blockSize + int64(inodeOffset)*InodeSize

	buf := make([]byte, InodeSize)
	if err := fs.readAt(buf, offset); err != nil {
		return Inode{}, &FatalConfigError{Op: "read inode", Err: err}
	}

	var raw inodeOnDisk
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &raw); err != nil {
		return Inode{}, &FatalConfigError{Op: "decode inode", Err: err}
	}

	return Inode{raw: raw, ino: ino}, nil
}

// blockAddrsForInode returns one physical block number per logical block of
// the inode's declared size (0 denoting a hole), built by walking either the
// inode's extent tree or its direct/singly/doubly/triply indirect block
// pointers, matching the two encodings the ext2/3/4 family uses.
//
// This is ported from the teacher's vdecompiler.dataFromExtentsTree /
// dataFromBlockPointers / scanPointers, generalized to walk a leaf extent's
// full run (the teacher's exploreExtentsTree stopped at one index per node
// and never expanded a leaf extent's Len beyond the first block it
// referenced the way BlockIterate below needs to for a correct physical
// address per logical block).
func (fs *FS) blockAddrsForInode(inode Inode) ([]uint64, error) {
	blockSize := uint64(fs.BlockSize())
	numBlocks := (inode.Size() + blockSize - 1) / blockSize
	addrs := make([]uint64, numBlocks)

	if numBlocks == 0 {
		return addrs, nil
	}

	if inode.usesExtents() {
		// The extent-tree root occupies the whole 60-byte i_block area, not
		// just its first 48 bytes (DirectPointer): a depth-0 node with 4
		// entries needs all of it (12-byte header + 4*12-byte entries), the
		// same full area inlineSymlinkTarget serializes for a fast symlink.
		buf := new(bytes.Buffer)
		_ = binary.Write(buf, binary.LittleEndian, inode.raw.DirectPointer[:])
		_ = binary.Write(buf, binary.LittleEndian, inode.raw.SinglyIndirect)
		_ = binary.Write(buf, binary.LittleEndian, inode.raw.DoublyIndirect)
		_ = binary.Write(buf, binary.LittleEndian, inode.raw.TriplyIndirect)
		if err := fs.walkExtentNode(buf.Bytes(), addrs); err != nil {
			return nil, &FatalConfigError{Op: fmt.Sprintf("walk extent tree of inode %d", inode.ino), Err: err}
		}
		return addrs, nil
	}

	for i := 0; i < directPointers && i < len(addrs); i++ {
		addrs[i] = uint64(inode.raw.DirectPointer[i])
	}

	i := directPointers
	pointers := []struct {
		addr  uint32
		depth int
	}{
		{inode.raw.SinglyIndirect, 0},
		{inode.raw.DoublyIndirect, 1},
		{inode.raw.TriplyIndirect, 2},
	}
	for _, p := range pointers {
		if i >= len(addrs) {
			break
		}
		if err := fs.scanIndirect(p.addr, p.depth, addrs, &i); err != nil {
			return nil, &FatalConfigError{Op: fmt.Sprintf("walk indirect blocks of inode %d", inode.ino), Err: err}
		}
	}

	return addrs, nil
}

// walkExtentNode decodes one extent-tree node (the inode's inline root, or a
// block loaded on its behalf) and fills addrs at each entry's own logical
// block address (ext.Block / idx.Block), not a running cursor: extent trees
// are sparse by construction, so a gap between two entries' logical ranges
// is a hole and must be left as addrs' zero value rather than packed over.
func (fs *FS) walkExtentNode(data []byte, addrs []uint64) error {
	hdr := new(extentHeader)
	r := bytes.NewReader(data)
	if err := binary.Read(r, binary.LittleEndian, hdr); err != nil {
		return err
	}
	if hdr.Magic != extentMagic {
		return fmt.Errorf("extent node missing magic number")
	}

	if hdr.Depth == 0 {
		for e := 0; e < int(hdr.Entries); e++ {
			ext := new(extent)
			if err := binary.Read(r, binary.LittleEndian, ext); err != nil {
				return err
			}
			base := uint64(ext.Lo) + (uint64(ext.Hi) << 32)
			// ee_len > extentMaxInitLen (32768) marks an unwritten (fallocated
			// but not yet written) extent; its real block count is ee_len
			// with that flag bit cleared, per the ext4 on-disk format.
			length := ext.Len
			if length > extentMaxInitLen {
				length -= extentMaxInitLen
			}
			for j := uint16(0); j < length; j++ {
				logical := uint64(ext.Block) + uint64(j)
				if logical >= uint64(len(addrs)) {
					break
				}
				addrs[logical] = base + uint64(j)
			}
		}
		return nil
	}

	for e := 0; e < int(hdr.Entries); e++ {
		idx := new(extentIndex)
		if err := binary.Read(r, binary.LittleEndian, idx); err != nil {
			return err
		}
		if uint64(idx.Block) >= uint64(len(addrs)) {
			continue
		}
		child := uint64(idx.LeafLo) + (uint64(idx.LeafHi) << 32)
		block, err := fs.readBlock(child)
		if err != nil {
			return err
		}
		if err := fs.walkExtentNode(block, addrs); err != nil {
			return err
		}
	}

	return nil
}

// scanIndirect walks a chain of indirect blocks depth levels deep, appending
// the data block addresses it finds (0 for a hole) to addrs starting at *i.
// depth 0 means addr itself is a block of data-block pointers.
func (fs *FS) scanIndirect(addr uint32, depth int, addrs []uint64, i *int) error {
	if addr == 0 {
		// An absent indirect block means every data block it would have
		// pointed to is a hole; skip straight over that range.
		count := pointersPerBlock(fs.BlockSize())
		for d := 0; d < depth; d++ {
			count *= pointersPerBlock(fs.BlockSize())
		}
		for j := 0; j < count && *i < len(addrs); j++ {
			*i++
		}
		return nil
	}

	block, err := fs.readBlock(uint64(addr))
	if err != nil {
		return err
	}

	r := bytes.NewReader(block)
	n := pointersPerBlock(fs.BlockSize())
	for p := 0; p < n; p++ {
		var ptr uint32
		if err := binary.Read(r, binary.LittleEndian, &ptr); err != nil {
			return err
		}

		if depth == 0 {
			if *i < len(addrs) {
				addrs[*i] = uint64(ptr)
				*i++
			}
			continue
		}

		if *i >= len(addrs) {
			return nil
		}
		if err := fs.scanIndirect(ptr, depth-1, addrs, i); err != nil {
			return err
		}
	}

	return nil
}

func pointersPerBlock(blockSize uint32) int {
	return int(blockSize / pointerSize)
}

// BlockIterate calls fn once per logical block of the inode's declared
// size, in ascending logical order, passing 0 as the physical block number
// for holes. This stands in for the collaborator operation spec §6 calls
// block_iterate with flags {HOLE, DATA_ONLY, READ_ONLY}: this package
// always includes holes and never writes, so those flags have no
// alternative behavior to select between.
func (fs *FS) BlockIterate(ino uint32, fn func(logical uint32, physical uint64) error) error {
	inode, err := fs.ReadInode(ino)
	if err != nil {
		return err
	}

	addrs, err := fs.blockAddrsForInode(inode)
	if err != nil {
		return err
	}

	for logical, physical := range addrs {
		if err := fn(uint32(logical), physical); err != nil {
			return err
		}
	}

	return nil
}
