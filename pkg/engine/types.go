package engine

import "github.com/extdj/dj/pkg/blockheap"

// Callback is the client-supplied sink for file content. It is invoked at
// least once per regular-file inode reachable from the target path, with
// strictly increasing pos values for a given inode and sum(len(data)) equal
// to fileLen. A non-nil return cancels the whole traversal: no further
// callbacks for any inode occur, and Run returns a *Cancelled wrapping it.
type Callback func(ino uint32, path string, pos, fileLen uint64, data []byte, cbPrivate *interface{}) error

// Inode is the subset of filesystem-inode metadata the engine needs. It is
// satisfied by pkg/extfs.Inode; any other decoder producing the same
// properties works just as well.
type Inode interface {
	Size() uint64
	IsDir() bool
	IsRegular() bool
	IsSymlink() bool
}

// FileSystem is the external collaborator the engine depends on: an
// ext2/3/4 metadata decoder. The core never reaches past this interface
// into any particular implementation's internals.
type FileSystem interface {
	NameiFollow(path string) (ino uint32, err error)
	ReadInode(ino uint32) (Inode, error)
	DirIterate(ino uint32, fn func(name string, childIno uint32, fileType uint8) error) error
	BlockIterate(ino uint32, fn func(logical uint32, physical uint64) error) error
	BlockSize() uint32
	Close() error
}

// InodeTask is a file discovered by enumeration and scheduled for scanning.
type InodeTask struct {
	Ino    uint32
	Path   string
	Length uint64
}

// InodeInfo tracks one inode currently being streamed to the client. It is
// exclusively owned by the engine; the callback only ever sees borrowed
// views of its data, valid for the duration of one call.
type InodeInfo struct {
	Ino        uint32
	Path       string
	Length     uint64
	blocksRead uint32 // next logical block index expected, in blocks
	references int    // undelivered BlockRecs still attached
	heap       *blockheap.Heap
	cbPrivate  interface{}
}

// BlockRec is a maximal run of physically contiguous blocks belonging to
// one inode, as produced by the block scanner and later sliced out of a
// shared Stripe buffer by the reassembler.
type BlockRec struct {
	inode         *InodeInfo
	physicalStart uint64
	logicalStart  uint32
	numBlocks     uint32
	byteLen       uint64

	stripe         *Stripe
	offsetInStripe uint64
	lenInStripe    uint64
}

// Stripe is a single physically contiguous I/O buffer shared by every
// BlockRec it was read on behalf of, including any coalesced gap bytes that
// belong to none of them. It is released the instant its last referencing
// BlockRec is delivered.
type Stripe struct {
	data          []byte
	byteLen       uint64
	references    int
	physicalStart uint64
	isHole        bool
}

// Stats summarizes one completed (or cancelled) run, the data behind the
// --profile report.
type Stats struct {
	InodesSeen     int
	BlocksRead     int
	StripesRead    int
	BytesDelivered uint64
}

// progressSink is the thin slice of pkg/elog.Progress the engine touches;
// kept as an interface here so tests can run without a real logger.
type progressSink interface {
	Increment(n int64)
	Finish(success bool)
}
