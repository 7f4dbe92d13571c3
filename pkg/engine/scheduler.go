package engine

import "sort"

// admitBudgetCheck gates whether a stripe's head block may be admitted.
// The original implementation carried this same check commented out; with
// it disabled (returning true unconditionally, as here) the head block of
// `scheduled` is always admitted, so nextStripe never actually returns zero
// consumed blocks in normal operation. The residual-requeue branch in
// drainOnce exists to handle that case anyway, as a safety net, and is
// exercised directly by TestResidualRequeueIsSafetyNet via this hook rather
// than by any reachable production code path.
var admitBudgetCheck = func(b *BlockRec) bool { return true }

// nextStripe forms one stripe starting at scheduled[0], walking forward
// while the physical gap between consecutive BlockRecs is at most
// coalesceDistance. A BlockRec whose physical_start is 0 (a synthetic hole)
// never joins a data stripe; it is always delivered alone. It returns the
// stripe and how many leading elements of scheduled it consumed; the caller
// walks scheduled[:consumed] itself to reassemble them in order.
func nextStripe(scheduled []*BlockRec, coalesceDistance uint64, blockSize uint32) (*Stripe, int) {
	if len(scheduled) == 0 {
		return nil, 0
	}

	b0 := scheduled[0]
	if !admitBudgetCheck(b0) {
		return nil, 0
	}

	if b0.physicalStart == 0 {
		s := &Stripe{byteLen: b0.byteLen, references: 1, isHole: true}
		b0.stripe, b0.offsetInStripe, b0.lenInStripe = s, 0, b0.byteLen
		return s, 1
	}

	s := &Stripe{physicalStart: b0.physicalStart}
	i := 0
	for i < len(scheduled) {
		bi := scheduled[i]
		if bi.physicalStart == 0 {
			break
		}
		if i > 0 {
			prev := scheduled[i-1]
			gap := bi.physicalStart - (prev.physicalStart + uint64(prev.numBlocks))
			if gap > coalesceDistance {
				break
			}
		}

		offset := (bi.physicalStart - b0.physicalStart) * uint64(blockSize)
		bi.stripe, bi.offsetInStripe, bi.lenInStripe = s, offset, bi.byteLen
		s.references++
		s.byteLen = offset + uint64(bi.numBlocks)*uint64(blockSize)
		i++
	}

	return s, i
}

// drainOnce walks scheduled front to back, forming and dispatching one
// stripe at a time, and returns whatever could not be absorbed so the
// caller can fold it back in as next iteration's scheduled list.
func (r *runner) drainOnce(scheduled []*BlockRec) ([]*BlockRec, error) {
	var residual []*BlockRec
	i := 0
	for i < len(scheduled) {
		stripe, consumed := nextStripe(scheduled[i:], *r.cfg.CoalesceDistance, r.blockSize)
		if consumed == 0 {
			residual = append(residual, scheduled[i])
			i++
			continue
		}

		if !stripe.isHole {
			if err := readStripe(r.fd, r.blockSize, r.cfg.Direct, stripe, r.cfg.logger()); err != nil {
				return nil, err
			}
		} else {
			stripe.data = make([]byte, stripe.byteLen)
		}
		r.stats.StripesRead++

		for _, b := range scheduled[i : i+consumed] {
			done, err := r.reassemble(b)
			if err != nil {
				return nil, err
			}
			if done {
				r.openInodes--
			}
		}

		i += consumed
	}
	return residual, nil
}

func sortByPhysical(blocks []*BlockRec) {
	sort.SliceStable(blocks, func(i, j int) bool { return blocks[i].physicalStart < blocks[j].physicalStart })
}
