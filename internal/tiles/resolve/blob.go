package resolve

// Blob neighbor bits, clockwise from north.
const (
	BlobN  uint8 = 1 << 0
	BlobNE uint8 = 1 << 1
	BlobE  uint8 = 1 << 2
	BlobSE uint8 = 1 << 3
	BlobS  uint8 = 1 << 4
	BlobSW uint8 = 1 << 5
	BlobW  uint8 = 1 << 6
	BlobNW uint8 = 1 << 7
)

// blobMasks is the standard 47-tile blob set: every neighbor mask that survives
// corner suppression, in ascending order. A tile's sheet index is its position
// in this list. Sheets are authored against this order; do not reorder.
var blobMasks = [47]uint8{
	0, 1, 4, 5, 7, 16, 17, 20, 21, 23,
	28, 29, 31, 64, 65, 68, 69, 71, 80, 81,
	84, 85, 87, 92, 93, 95, 112, 113, 116, 117,
	119, 124, 125, 127, 193, 197, 199, 209, 213, 215,
	221, 223, 241, 245, 247, 253, 255,
}

var blobIndex [256]int8

func init() {
	for i := range blobIndex {
		blobIndex[i] = -1
	}
	for i, m := range blobMasks {
		blobIndex[m] = int8(i)
	}
}

// EffectiveMask clears every diagonal bit whose two adjacent orthogonal bits
// are not both set.
func EffectiveMask(mask uint8) uint8 {
	n := mask&BlobN != 0
	e := mask&BlobE != 0
	s := mask&BlobS != 0
	w := mask&BlobW != 0
	if !(n && e) {
		mask &^= BlobNE
	}
	if !(s && e) {
		mask &^= BlobSE
	}
	if !(s && w) {
		mask &^= BlobSW
	}
	if !(n && w) {
		mask &^= BlobNW
	}
	return mask
}

// BlobIndex maps any 8-bit neighbor mask to its 0..46 tile index.
func BlobIndex(mask uint8) int {
	return int(blobIndex[EffectiveMask(mask)])
}

// BlobMask returns the canonical mask stored at a tile index.
func BlobMask(index int) (uint8, bool) {
	if index < 0 || index >= len(blobMasks) {
		return 0, false
	}
	return blobMasks[index], true
}
