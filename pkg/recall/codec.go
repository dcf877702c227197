package recall

import (
	"encoding/binary"
	"fmt"
	"math"
)

// encodeVector packs an embedding as a little-endian blob: a uint32
// dimension header followed by one float32 per component. Non-finite
// components are rejected; they would poison every later similarity.
func encodeVector(vec []float32) ([]byte, error) {
	buf := make([]byte, 4+4*len(vec))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(vec)))
	for i, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("encode vector: non-finite component at %d", i)
		}
		binary.LittleEndian.PutUint32(buf[4+i*4:], math.Float32bits(v))
	}
	return buf, nil
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob) < 4 {
		return nil, fmt.Errorf("decode vector: blob too short (%d bytes)", len(blob))
	}
	dim := int(binary.LittleEndian.Uint32(blob[0:4]))
	if len(blob) != 4+4*dim {
		return nil, fmt.Errorf("decode vector: %d bytes for dimension %d", len(blob), dim)
	}
	vec := make([]float32, dim)
	for i := range vec {
		v := math.Float32frombits(binary.LittleEndian.Uint32(blob[4+i*4:]))
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("decode vector: non-finite component at %d", i)
		}
		vec[i] = v
	}
	return vec, nil
}
