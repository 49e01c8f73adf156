package mesh

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrMalformed wraps every STL decoding failure so callers can tell a bad
// artifact apart from transport problems.
var ErrMalformed = errors.New("malformed STL data")

const (
	binaryHeaderLen   = 80
	binaryTriangleLen = 50 // 12 floats + uint16 attribute
)

// Decode parses STL bytes into a Mesh. Both encodings the compiler emits
// are handled: the 84-byte-header binary layout and the ASCII
// solid/facet/vertex grammar.
func Decode(data []byte) (*Mesh, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrMalformed)
	}

	if looksASCII(data) {
		return decodeASCII(data)
	}
	return decodeBinary(data)
}

// looksASCII detects the ASCII encoding. Binary files may also begin with
// "solid" in their free-form header, so the facet keyword is required too.
func looksASCII(data []byte) bool {
	head := bytes.TrimSpace(data)
	if !bytes.HasPrefix(head, []byte("solid")) {
		return false
	}
	probe := data
	if len(probe) > 1024 {
		probe = probe[:1024]
	}
	return bytes.Contains(probe, []byte("facet"))
}

// decodeBinary parses the fixed binary layout: 80-byte header, uint32
// triangle count, then 50 bytes per triangle, all little-endian.
func decodeBinary(data []byte) (*Mesh, error) {
	if len(data) < binaryHeaderLen+4 {
		return nil, fmt.Errorf("%w: %d bytes is too short for a binary header", ErrMalformed, len(data))
	}

	count := binary.LittleEndian.Uint32(data[binaryHeaderLen : binaryHeaderLen+4])
	want := binaryHeaderLen + 4 + int(count)*binaryTriangleLen
	if len(data) != want {
		return nil, fmt.Errorf(
			"%w: triangle count %d implies %d bytes, have %d",
			ErrMalformed, count, want, len(data),
		)
	}

	m := &Mesh{
		Triangles: make([]Triangle, count),
		Normals:   make([]Vector3, count),
	}
	offset := binaryHeaderLen + 4
	for i := 0; i < int(count); i++ {
		m.Normals[i] = readVector3(data, offset)
		offset += 12
		for j := 0; j < 3; j++ {
			m.Triangles[i][j] = readVector3(data, offset)
			offset += 12
		}
		offset += 2 // attribute byte count, ignored
	}
	return m, nil
}

// readVector3 reads three consecutive little-endian float32 values.
func readVector3(data []byte, offset int) Vector3 {
	return Vector3{
		X: math.Float32frombits(binary.LittleEndian.Uint32(data[offset : offset+4])),
		Y: math.Float32frombits(binary.LittleEndian.Uint32(data[offset+4 : offset+8])),
		Z: math.Float32frombits(binary.LittleEndian.Uint32(data[offset+8 : offset+12])),
	}
}

// decodeASCII parses the solid/facet/vertex grammar line by line.
func decodeASCII(data []byte) (*Mesh, error) {
	m := &Mesh{}
	var pending []Vector3
	var pendingNormal Vector3

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "facet":
			// "facet normal nx ny nz"
			if len(fields) != 5 || fields[1] != "normal" {
				return nil, fmt.Errorf("%w: bad facet at line %d", ErrMalformed, line)
			}
			n, err := parseVector3(fields[2:])
			if err != nil {
				return nil, fmt.Errorf("%w: bad facet normal at line %d", ErrMalformed, line)
			}
			pendingNormal = n
			pending = pending[:0]
		case "vertex":
			if len(fields) != 4 {
				return nil, fmt.Errorf("%w: bad vertex at line %d", ErrMalformed, line)
			}
			v, err := parseVector3(fields[1:])
			if err != nil {
				return nil, fmt.Errorf("%w: bad vertex at line %d", ErrMalformed, line)
			}
			pending = append(pending, v)
			if len(pending) > 3 {
				return nil, fmt.Errorf("%w: more than three vertices in facet at line %d", ErrMalformed, line)
			}
		case "endfacet":
			if len(pending) != 3 {
				return nil, fmt.Errorf("%w: facet with %d vertices at line %d", ErrMalformed, len(pending), line)
			}
			m.Triangles = append(m.Triangles, Triangle{pending[0], pending[1], pending[2]})
			m.Normals = append(m.Normals, pendingNormal)
			pending = pending[:0]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(m.Triangles) == 0 {
		return nil, fmt.Errorf("%w: no facets found", ErrMalformed)
	}
	return m, nil
}

// parseVector3 parses three float fields.
func parseVector3(fields []string) (Vector3, error) {
	var out [3]float32
	for i, field := range fields {
		f, err := strconv.ParseFloat(field, 32)
		if err != nil {
			return Vector3{}, err
		}
		out[i] = float32(f)
	}
	return Vector3{X: out[0], Y: out[1], Z: out[2]}, nil
}

// EncodeBinary serializes a mesh into the binary STL layout. Used by tests
// and by tooling that needs deterministic fixtures.
func EncodeBinary(m *Mesh) []byte {
	out := make([]byte, binaryHeaderLen+4+len(m.Triangles)*binaryTriangleLen)
	copy(out, "scad-studio binary STL")
	binary.LittleEndian.PutUint32(out[binaryHeaderLen:], uint32(len(m.Triangles)))

	offset := binaryHeaderLen + 4
	for i, tri := range m.Triangles {
		var n Vector3
		if i < len(m.Normals) {
			n = m.Normals[i]
		}
		offset = putVector3(out, offset, n)
		for _, v := range tri {
			offset = putVector3(out, offset, v)
		}
		offset += 2
	}
	return out
}

// putVector3 writes three little-endian float32 values.
func putVector3(out []byte, offset int, v Vector3) int {
	binary.LittleEndian.PutUint32(out[offset:], math.Float32bits(v.X))
	binary.LittleEndian.PutUint32(out[offset+4:], math.Float32bits(v.Y))
	binary.LittleEndian.PutUint32(out[offset+8:], math.Float32bits(v.Z))
	return offset + 12
}
