package engine

import "github.com/extdj/dj/pkg/blockheap"

// reassemble inserts b into its owning inode's heap and flushes every
// block now deliverable in logical order. It reports done=true once the
// inode's reference count reaches zero, signalling the caller to release
// the open-inode slot.
func (r *runner) reassemble(b *BlockRec) (done bool, err error) {
	info := b.inode

	if info.heap == nil {
		capacity := int((info.Length+uint64(r.blockSize)-1)/uint64(r.blockSize)) + 1
		info.heap = blockheap.New(capacity)
	}
	info.heap.Insert(uint64(b.logicalStart), b)

	for info.heap.Size() > 0 && info.heap.MinKey() == uint64(info.blocksRead) {
		nb := info.heap.DelMin().(*BlockRec)

		if info.references <= 0 {
			return false, &FatalInvariantError{Detail: "inode references reached zero with undelivered blocks"}
		}

		data := nb.stripe.data[nb.offsetInStripe : nb.offsetInStripe+nb.lenInStripe]
		pos := uint64(nb.logicalStart) * uint64(r.blockSize)
		cbErr := r.cb(info.Ino, info.Path, pos, info.Length, data, &info.cbPrivate)

		info.blocksRead += nb.numBlocks
		r.stats.BlocksRead += int(nb.numBlocks)
		r.stats.BytesDelivered += nb.lenInStripe

		nb.stripe.references--
		if nb.stripe.references == 0 {
			nb.stripe.data = nil
		}

		info.references--
		if cbErr != nil {
			return info.references == 0, &Cancelled{Err: cbErr}
		}

		if info.references == 0 {
			info.heap = nil
			return true, nil
		}
	}

	return false, nil
}
