package engine

import "github.com/extdj/dj/pkg/extfs"

// extfsAdapter satisfies FileSystem in terms of pkg/extfs.FS. It exists so
// the rest of the engine package never imports extfs directly: any decoder
// exposing the same operations can stand in for it.
type extfsAdapter struct {
	fs *extfs.FS
}

// NewExtfsFileSystem opens devicePath with pkg/extfs and wraps it as a
// FileSystem, the collaborator this module ships out of the box.
func NewExtfsFileSystem(devicePath string) (FileSystem, error) {
	fs, err := extfs.Open(devicePath)
	if err != nil {
		return nil, err
	}
	return &extfsAdapter{fs: fs}, nil
}

func (a *extfsAdapter) NameiFollow(path string) (uint32, error) { return a.fs.NameiFollow(path) }

func (a *extfsAdapter) ReadInode(ino uint32) (Inode, error) {
	inode, err := a.fs.ReadInode(ino)
	if err != nil {
		return nil, err
	}
	return inode, nil
}

func (a *extfsAdapter) DirIterate(ino uint32, fn func(name string, childIno uint32, fileType uint8) error) error {
	return a.fs.DirIterate(ino, fn)
}

func (a *extfsAdapter) BlockIterate(ino uint32, fn func(logical uint32, physical uint64) error) error {
	return a.fs.BlockIterate(ino, fn)
}

func (a *extfsAdapter) BlockSize() uint32 { return a.fs.BlockSize() }

func (a *extfsAdapter) Close() error { return a.fs.Close() }
