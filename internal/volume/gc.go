package volume

// GC tombstones every live needle whose photo_id is not present in
// knownIDs (the Directory's view of what this store should hold),
// appending a tombstone via appendTombstone and updating the index.
// Tombstones themselves are left for the next compaction pass to reclaim.
func GC(idx *Index, knownIDs map[uint64]bool, appendTombstone func(photoID uint64) (Entry, error)) (int, error) {
	var candidates []uint64
	idx.Range(func(photoID uint64, e Entry) bool {
		if !e.Deleted && !knownIDs[photoID] {
			candidates = append(candidates, photoID)
		}
		return true
	})

	var n int
	for _, photoID := range candidates {
		e, err := appendTombstone(photoID)
		if err != nil {
			return n, err
		}
		idx.Put(photoID, e)
		n++
	}
	return n, nil
}
