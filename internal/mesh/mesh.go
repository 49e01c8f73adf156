// Package mesh holds renderer-ready triangle geometry decoded from compiler
// artifacts, plus the bounding and normalization math the viewport needs.
package mesh

import "github.com/chewxy/math32"

// Vector3 is one point or direction in model space. Components are float32
// to match the STL wire format.
type Vector3 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// Sub returns v - o.
func (v Vector3) Sub(o Vector3) Vector3 {
	return Vector3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// MulScalar returns v scaled by s.
func (v Vector3) MulScalar(s float32) Vector3 {
	return Vector3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

// Triangle is three vertices in winding order. No shared-vertex
// deduplication: STL is a plain triangle soup.
type Triangle [3]Vector3

// Mesh is decoded geometry: triangles plus one facet normal each.
type Mesh struct {
	Triangles []Triangle `json:"triangles"`
	Normals   []Vector3  `json:"normals"`
}

// TriangleCount returns the number of triangles.
func (m *Mesh) TriangleCount() int {
	return len(m.Triangles)
}

// IsEmpty reports whether the mesh has no geometry.
func (m *Mesh) IsEmpty() bool {
	return m == nil || len(m.Triangles) == 0
}

// Box3 is an axis-aligned bounding box.
type Box3 struct {
	Min Vector3 `json:"min"`
	Max Vector3 `json:"max"`
}

// Size returns the box extents per axis.
func (b Box3) Size() Vector3 {
	return b.Max.Sub(b.Min)
}

// Center returns the box midpoint.
func (b Box3) Center() Vector3 {
	return Vector3{
		X: (b.Min.X + b.Max.X) / 2,
		Y: (b.Min.Y + b.Max.Y) / 2,
		Z: (b.Min.Z + b.Max.Z) / 2,
	}
}

// MaxDimension returns the largest extent across the three axes.
func (b Box3) MaxDimension() float32 {
	size := b.Size()
	return math32.Max(size.X, math32.Max(size.Y, size.Z))
}

// Bounds computes the axis-aligned bounding box over all triangle vertices.
// An empty mesh yields the zero box.
func (m *Mesh) Bounds() Box3 {
	if m.IsEmpty() {
		return Box3{}
	}

	box := Box3{
		Min: Vector3{X: math32.Inf(1), Y: math32.Inf(1), Z: math32.Inf(1)},
		Max: Vector3{X: math32.Inf(-1), Y: math32.Inf(-1), Z: math32.Inf(-1)},
	}
	for _, tri := range m.Triangles {
		for _, v := range tri {
			box.Min.X = math32.Min(box.Min.X, v.X)
			box.Min.Y = math32.Min(box.Min.Y, v.Y)
			box.Min.Z = math32.Min(box.Min.Z, v.Z)
			box.Max.X = math32.Max(box.Max.X, v.X)
			box.Max.Y = math32.Max(box.Max.Y, v.Y)
			box.Max.Z = math32.Max(box.Max.Z, v.Z)
		}
	}
	return box
}
