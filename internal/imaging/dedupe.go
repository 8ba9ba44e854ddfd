package imaging

import (
	"image"

	"github.com/corona10/goimagehash"
	"github.com/rotisserie/eris"
)

// DefaultDupeDistance is the perception hash Hamming distance at or
// under which two images count as the same shot.
const DefaultDupeDistance = 10

// HashEntry pairs an image identifier with its perception hash.
type HashEntry struct {
	Key  string
	Hash *goimagehash.ImageHash
}

// DupePair records two library entries that hash within the threshold.
type DupePair struct {
	A        string
	B        string
	Distance int
}

// HashImage computes the perception hash for a decoded image.
func HashImage(key string, img image.Image) (HashEntry, error) {
	h, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return HashEntry{}, eris.Wrapf(err, "imaging: hash %s", key)
	}
	return HashEntry{Key: key, Hash: h}, nil
}

// FindDuplicates compares every pair of entries and returns those whose
// Hamming distance is at or under maxDistance. Pass a non-positive
// maxDistance to use the default.
func FindDuplicates(entries []HashEntry, maxDistance int) ([]DupePair, error) {
	if maxDistance <= 0 {
		maxDistance = DefaultDupeDistance
	}

	var pairs []DupePair
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			d, err := entries[i].Hash.Distance(entries[j].Hash)
			if err != nil {
				return nil, eris.Wrapf(err, "imaging: distance %s vs %s", entries[i].Key, entries[j].Key)
			}
			if d <= maxDistance {
				pairs = append(pairs, DupePair{A: entries[i].Key, B: entries[j].Key, Distance: d})
			}
		}
	}
	return pairs, nil
}
