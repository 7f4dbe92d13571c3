package extfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"path"
	"strings"
)

// readInodeData materializes an inode's full content into memory. It is
// only ever used for directories and symlink targets, both small by
// construction; regular file content is streamed by the engine through
// BlockIterate + its own stripe reads instead, never through this method.
func (fs *FS) readInodeData(inode Inode) ([]byte, error) {
	if inode.raw.Sectors == 0 {
		if inode.IsSymlink() {
			return fs.inlineSymlinkTarget(inode), nil
		}
		return nil, nil
	}

	addrs, err := fs.blockAddrsForInode(inode)
	if err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)
	for _, addr := range addrs {
		block, err := fs.readBlock(addr)
		if err != nil {
			return nil, err
		}
		buf.Write(block)
	}

	data := buf.Bytes()
	size := inode.Size()
	if uint64(len(data)) > size {
		data = data[:size]
	}
	return data, nil
}

// inlineSymlinkTarget decodes a "fast symlink": one short enough that ext
// stores its target directly in the inode's block-pointer area instead of
// allocating a data block.
func (fs *FS) inlineSymlinkTarget(inode Inode) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, inode.raw.DirectPointer[:])
	_ = binary.Write(buf, binary.LittleEndian, inode.raw.SinglyIndirect)
	_ = binary.Write(buf, binary.LittleEndian, inode.raw.DoublyIndirect)
	_ = binary.Write(buf, binary.LittleEndian, inode.raw.TriplyIndirect)
	data := buf.Bytes()
	size := inode.Size()
	if uint64(len(data)) > size {
		data = data[:size]
	}
	return data
}

// Readdir returns the decoded entries of a directory inode, in on-disk
// order, including "." and "..".
func (fs *FS) Readdir(inode Inode) ([]DirEntry, error) {
	data, err := fs.readInodeData(inode)
	if err != nil {
		return nil, err
	}

	var entries []DirEntry
	r := bytes.NewReader(data)
	for r.Len() > 0 {
		var d dirent
		if err := binary.Read(r, binary.LittleEndian, &d); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}

		nameLen := int(d.NameLen)
		recLen := int(d.RecLen)
		if recLen < 8 || nameLen > recLen-8 {
			return nil, fmt.Errorf("corrupt directory entry (reclen %d, namelen %d)", recLen, nameLen)
		}

		nameBuf := make([]byte, recLen-8)
		if _, err := io.ReadFull(r, nameBuf); err != nil {
			return nil, err
		}

		if d.Inode == 0 {
			continue
		}

		entries = append(entries, DirEntry{
			Name: string(nameBuf[:nameLen]),
			Ino:  d.Inode,
			Type: d.Type,
		})
	}

	return entries, nil
}

// DirIterate decodes a directory's entries and invokes fn once per entry,
// "." and ".." included, stopping early if fn returns an error.
func (fs *FS) DirIterate(ino uint32, fn func(name string, childIno uint32, fileType uint8) error) error {
	inode, err := fs.ReadInode(ino)
	if err != nil {
		return err
	}
	if !inode.IsDir() {
		return &FatalConfigError{Op: "iterate directory", Err: fmt.Errorf("inode %d is not a directory", ino)}
	}

	entries, err := fs.Readdir(inode)
	if err != nil {
		return &FatalConfigError{Op: fmt.Sprintf("iterate directory (inode %d)", ino), Err: err}
	}

	for _, e := range entries {
		if err := fn(e.Name, e.Ino, e.Type); err != nil {
			return err
		}
	}

	return nil
}

func (fs *FS) childInode(dirIno uint32, name string) (uint32, error) {
	inode, err := fs.ReadInode(dirIno)
	if err != nil {
		return 0, err
	}
	entries, err := fs.Readdir(inode)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if e.Name == name {
			return e.Ino, nil
		}
	}
	return 0, fmt.Errorf("no such file or directory: %q", name)
}

// NameiFollow resolves a slash-separated path rooted at the filesystem root
// to an inode number, following symbolic links at every component
// (including the final one) up to maxSymlinkHops, the way
// ext2fs_namei_follow resolves the engine's start path in the original
// implementation.
func (fs *FS) NameiFollow(p string) (uint32, error) {
	p = path.Clean("/" + p)
	if p == "/" {
		return RootInode, nil
	}

	ino, _, err := fs.resolve(RootInode, strings.Split(strings.TrimPrefix(p, "/"), "/"), 0)
	if err != nil {
		return 0, &FatalConfigError{Op: fmt.Sprintf("resolve path %q", p), Err: err}
	}
	return ino, nil
}

// resolve walks components starting at dirIno, following symlinks, and
// returns the resolved inode plus the total symlink hop count consumed —
// including hops spent inside any nested symlink chain a component
// resolved through, so a caller looping over further components (as the
// recursive call below does) keeps counting against the same budget
// instead of restarting it.
func (fs *FS) resolve(dirIno uint32, components []string, hops int) (uint32, int, error) {
	ino := dirIno
	for idx, name := range components {
		if name == "" {
			continue
		}

		child, err := fs.childInode(ino, name)
		if err != nil {
			return 0, hops, err
		}

		childInode, err := fs.ReadInode(child)
		if err != nil {
			return 0, hops, err
		}

		if childInode.IsSymlink() {
			if hops >= maxSymlinkHops {
				return 0, hops, fmt.Errorf("too many levels of symbolic links resolving %q", name)
			}
			targetData, err := fs.inlineOrBlockSymlink(childInode)
			if err != nil {
				return 0, hops, fmt.Errorf("read symlink target of %q: %w", name, err)
			}
			target := string(targetData)
			hops++

			var base uint32
			if strings.HasPrefix(target, "/") {
				base = RootInode
			} else {
				base = ino
			}

			targetComponents := strings.Split(strings.Trim(target, "/"), "/")
			resolved, newHops, err := fs.resolve(base, targetComponents, hops)
			if err != nil {
				return 0, newHops, err
			}
			ino = resolved
			hops = newHops

			// If this wasn't the final component, keep descending from
			// the symlink's resolved target.
			if idx < len(components)-1 {
				continue
			}
			return ino, hops, nil
		}

		ino = child
	}

	return ino, hops, nil
}

func (fs *FS) inlineOrBlockSymlink(inode Inode) ([]byte, error) {
	return fs.readInodeData(inode)
}
