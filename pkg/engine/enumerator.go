package engine

import (
	"path"
	"sort"

	"github.com/pkg/errors"
)

// enumerate resolves startPath against fs and produces the set of
// InodeTasks reachable from it. A regular file produces exactly one task.
// A directory is walked recursively; every regular file beneath it
// produces a task, every subdirectory is recursed into, and every symlink
// is skipped silently (this engine never follows a link once it is inside
// the start subtree, only at the root via fs.NameiFollow itself).
//
// The returned slice is sorted by inode number, improving the locality of
// the metadata reads the scanner is about to issue, not because callers
// depend on the order.
func enumerate(fs FileSystem, startPath string) ([]*InodeTask, error) {
	ino, err := fs.NameiFollow(startPath)
	if err != nil {
		return nil, &FatalConfigError{Op: "resolve start path", Err: err}
	}

	inode, err := fs.ReadInode(ino)
	if err != nil {
		return nil, &FatalConfigError{Op: "read start inode", Err: err}
	}

	var tasks []*InodeTask
	switch {
	case inode.IsRegular():
		tasks = append(tasks, &InodeTask{Ino: ino, Path: startPath, Length: inode.Size()})
	case inode.IsDir():
		if err := walkDir(fs, ino, startPath, &tasks); err != nil {
			return nil, err
		}
	default:
		return nil, &FatalConfigError{Op: "resolve start path",
			Err: errors.Errorf("inode %d at %q is neither a regular file nor a directory", ino, startPath)}
	}

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Ino < tasks[j].Ino })
	return tasks, nil
}

func walkDir(fs FileSystem, dirIno uint32, dirPath string, tasks *[]*InodeTask) error {
	return fs.DirIterate(dirIno, func(name string, childIno uint32, fileType uint8) error {
		if name == "." || name == ".." {
			return nil
		}

		child, err := fs.ReadInode(childIno)
		if err != nil {
			return &FatalConfigError{Op: "read directory entry inode", Err: err}
		}

		childPath := path.Join(dirPath, name)
		switch {
		case child.IsRegular():
			*tasks = append(*tasks, &InodeTask{Ino: childIno, Path: childPath, Length: child.Size()})
		case child.IsDir():
			return walkDir(fs, childIno, childPath, tasks)
		default:
			// symlinks and special files inside the tree are skipped silently
		}
		return nil
	})
}
