package route

import "sort"

// CompareChronological returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
//
// Order: (timestamp ASC, block_number ASC, index ASC)
func CompareChronological(a, b Segment) int {
	if a.Timestamp != b.Timestamp {
		if a.Timestamp < b.Timestamp {
			return -1
		}
		return 1
	}
	if a.BlockNumber != b.BlockNumber {
		if a.BlockNumber < b.BlockNumber {
			return -1
		}
		return 1
	}
	if a.Index != b.Index {
		if a.Index < b.Index {
			return -1
		}
		return 1
	}
	return 0
}

// SortChronological orders segments in place. The sort is stable, so input
// position breaks any remaining tie.
func SortChronological(segments []Segment) {
	sort.SliceStable(segments, func(i, j int) bool {
		return CompareChronological(segments[i], segments[j]) < 0
	})
}

// InsertionPoint returns the position at which seg keeps the slice ordered,
// after any segment sharing its (timestamp, block_number) key.
func InsertionPoint(segments []Segment, seg Segment) int {
	return sort.Search(len(segments), func(i int) bool {
		s := segments[i]
		if s.Timestamp != seg.Timestamp {
			return s.Timestamp > seg.Timestamp
		}
		return s.BlockNumber > seg.BlockNumber
	})
}

// CopySegments returns a shallow copy of the slice.
func CopySegments(segments []Segment) []Segment {
	out := make([]Segment, len(segments))
	copy(out, segments)
	return out
}
