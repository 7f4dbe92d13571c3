package engine

// scanInode asks the filesystem collaborator for the physical location of
// every logical block of task and packages the result as one InodeInfo
// plus a list of BlockRecs, coalescing contiguous physical runs as it goes.
//
// Empty files are handled entirely here: task.Length == 0 produces no
// BlockRec, and the client callback is invoked exactly once with a zero
// length before this function returns, matching the contract that every
// regular-file inode sees at least one call.
func scanInode(fs FileSystem, task *InodeTask, cb Callback) (*InodeInfo, []*BlockRec, error) {
	info := &InodeInfo{Ino: task.Ino, Path: task.Path, Length: task.Length}

	if task.Length == 0 {
		if err := cb(info.Ino, info.Path, 0, 0, nil, &info.cbPrivate); err != nil {
			return nil, nil, &Cancelled{Err: err}
		}
		return info, nil, nil
	}

	blockSize := uint64(fs.BlockSize())
	numLogicalBlocks := uint32((task.Length + blockSize - 1) / blockSize)

	var blocks []*BlockRec
	var blocksScanned uint32

	appendBlock := func(physical uint64, logical uint32) {
		if len(blocks) > 0 {
			last := blocks[len(blocks)-1]
			if physical != 0 && last.physicalStart != 0 && last.physicalStart+uint64(last.numBlocks) == physical {
				last.numBlocks++
				return
			}
			// Holes carry no physical address to check for contiguity
			// against; any run of logically-consecutive holes is one gap
			// as far as delivery is concerned; merging them keeps a
			// long sparse region from producing one BlockRec per hole
			// block.
			if physical == 0 && last.physicalStart == 0 {
				last.numBlocks++
				return
			}
		}
		blocks = append(blocks, &BlockRec{inode: info, physicalStart: physical, logicalStart: logical, numBlocks: 1})
	}

	backfillTo := func(target uint32) {
		for blocksScanned < target {
			appendBlock(0, blocksScanned)
			blocksScanned++
		}
	}

	err := fs.BlockIterate(task.Ino, func(logical uint32, physical uint64) error {
		if logical >= numLogicalBlocks {
			// some filesystems report a virtual trailing block beyond the
			// declared length to accommodate writers; it must never be
			// delivered.
			return nil
		}
		backfillTo(logical)
		appendBlock(physical, logical)
		blocksScanned++
		return nil
	})
	if err != nil {
		return nil, nil, &FatalConfigError{Op: "scan blocks", Err: err}
	}
	backfillTo(numLogicalBlocks)

	for _, b := range blocks {
		full := uint64(b.numBlocks) * blockSize
		remaining := task.Length - uint64(b.logicalStart)*blockSize
		if full < remaining {
			b.byteLen = full
		} else {
			b.byteLen = remaining
		}
	}

	info.references = len(blocks)
	return info, blocks, nil
}
