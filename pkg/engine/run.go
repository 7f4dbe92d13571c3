package engine

import (
	"context"
	"os"

	werrors "github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// runner carries the mutable state of one Run call. It is never shared
// across goroutines: the core is single-threaded cooperative scheduling,
// the only blocking operation being the positioned reads in readStripe.
type runner struct {
	cfg       Config
	cb        Callback
	blockSize uint32
	fd        int

	openInodes int
	stats      Stats
}

// Run drives the full four-stage pipeline against devicePath, delivering
// the contents of every regular file reachable from targetPath (inside
// fs's view of the image) to cb, and returns once every admitted inode has
// been fully delivered or the callback cancels the traversal.
//
// fs is only ever used for metadata: inode lookup, directory iteration,
// and block-address resolution. Bulk data is read through a second,
// independently opened descriptor on devicePath, so a direct-I/O data read
// never disturbs whatever buffering the metadata collaborator relies on.
func Run(ctx context.Context, fs FileSystem, devicePath, targetPath string, cb Callback, cfg Config) (Stats, error) {
	cfg, err := NewConfig(cfg)
	if err != nil {
		return Stats{}, err
	}

	tasks, err := enumerate(fs, targetPath)
	if err != nil {
		return Stats{}, err
	}

	flags := os.O_RDONLY
	if cfg.Direct {
		flags |= unix.O_DIRECT
	}
	fd, err := unix.Open(devicePath, flags, 0)
	if err != nil {
		return Stats{}, &FatalConfigError{Op: "open device for data reads", Err: err}
	}
	defer unix.Close(fd)

	if err := unix.Fadvise(fd, 0, 0, unix.FADV_SEQUENTIAL); err != nil {
		cfg.logger().Warnf("posix_fadvise on %s: %v", devicePath, err)
	}

	r := &runner{cfg: cfg, cb: cb, blockSize: fs.BlockSize(), fd: fd}

	taskIdx := 0
	var scheduled []*BlockRec

	for {
		if err := ctx.Err(); err != nil {
			return r.stats, werrors.Wrap(err, "traversal aborted")
		}

		for r.openInodes < cfg.MaxInodes && taskIdx < len(tasks) {
			task := tasks[taskIdx]
			taskIdx++
			r.stats.InodesSeen++

			_, blocks, err := scanInode(fs, task, cb)
			if err != nil {
				return r.stats, err
			}
			if len(blocks) == 0 {
				continue
			}

			scheduled = append(scheduled, blocks...)
			r.openInodes++
		}

		if len(scheduled) == 0 && taskIdx >= len(tasks) {
			break
		}

		sortByPhysical(scheduled)

		stripesBefore := r.stats.StripesRead
		residual, err := r.drainOnce(scheduled)
		if err != nil {
			return r.stats, err
		}
		if r.cfg.Progress != nil {
			r.cfg.Progress.Increment(int64(r.stats.StripesRead - stripesBefore))
		}
		scheduled = residual
	}

	if r.cfg.Progress != nil {
		r.cfg.Progress.Finish(true)
	}

	return r.stats, nil
}
