package shape

// ChooseBin picks the smallest bin in sizeBins that is >= r. sizeBins
// must be sorted ascending. If r exceeds every bin, ChooseBin returns
// the largest bin and needsFragment=true: the caller must split the
// chunk across multiple frames of that size.
func ChooseBin(sizeBins []int, r int) (bin int, needsFragment bool) {
	if len(sizeBins) == 0 {
		return r, false
	}
	for _, b := range sizeBins {
		if b >= r {
			return b, false
		}
	}
	return sizeBins[len(sizeBins)-1], true
}

// SplitForBin divides data into chunks no larger than binSize, for use
// when ChooseBin reports needsFragment.
func SplitForBin(data []byte, binSize int) [][]byte {
	if binSize <= 0 {
		return [][]byte{data}
	}
	var chunks [][]byte
	for len(data) > 0 {
		n := binSize
		if n > len(data) {
			n = len(data)
		}
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	if len(chunks) == 0 {
		chunks = append(chunks, data)
	}
	return chunks
}
