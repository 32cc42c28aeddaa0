package encoder

// NAL unit types of interest.
const (
	nalIDR = 5
	nalSPS = 7
	nalPPS = 8
)

// forEachNAL calls fn with the type of every NAL unit in an Annex B buffer.
func forEachNAL(data []byte, fn func(typ byte) bool) {
	for i := 0; i+3 < len(data); i++ {
		if data[i] != 0 || data[i+1] != 0 {
			continue
		}
		var start int
		switch {
		case data[i+2] == 1:
			start = i + 3
		case data[i+2] == 0 && data[i+3] == 1 && i+4 < len(data):
			start = i + 4
		default:
			continue
		}
		if start >= len(data) {
			return
		}
		if !fn(data[start] & 0x1F) {
			return
		}
		i = start
	}
}

// IsKeyframe reports whether an access unit contains an IDR slice.
func IsKeyframe(au []byte) bool {
	key := false
	forEachNAL(au, func(typ byte) bool {
		if typ == nalIDR {
			key = true
			return false
		}
		return true
	})
	return key
}

// HasParameterSets reports whether an access unit carries both SPS and PPS.
func HasParameterSets(au []byte) bool {
	var sps, pps bool
	forEachNAL(au, func(typ byte) bool {
		switch typ {
		case nalSPS:
			sps = true
		case nalPPS:
			pps = true
		}
		return !(sps && pps)
	})
	return sps && pps
}
