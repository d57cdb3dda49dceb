package tracer

import "fmt"

// BlockRange is an inclusive span of blocks.
type BlockRange struct {
	From uint64
	To   uint64
}

// Len is the number of blocks in the span.
func (r BlockRange) Len() uint64 {
	if r.To < r.From {
		return 0
	}
	return r.To - r.From + 1
}

func (r BlockRange) String() string {
	return fmt.Sprintf("%d-%d", r.From, r.To)
}

// Chunks cuts r into consecutive spans of at most size blocks, in ascending order.
// A zero size, or a span that already fits, yields r itself.
func (r BlockRange) Chunks(size uint64) []BlockRange {
	if r.To < r.From {
		return nil
	}
	if size == 0 || r.Len() <= size {
		return []BlockRange{r}
	}

	out := make([]BlockRange, 0, (r.Len()+size-1)/size)
	for start := r.From; ; {
		end := start + size - 1
		if end >= r.To || end < start {
			out = append(out, BlockRange{From: start, To: r.To})
			return out
		}
		out = append(out, BlockRange{From: start, To: end})
		start = end + 1
	}
}
