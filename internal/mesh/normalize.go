package mesh

// DefaultTargetSpan is the display volume edge the viewport fits meshes to.
const DefaultTargetSpan float32 = 10

// FallbackScale is used when the bounding box has zero size, so degenerate
// meshes never divide by zero.
const FallbackScale float32 = 1

// Normalization is a uniform fit transform: scale about the box center,
// then recenter at the display origin.
type Normalization struct {
	Scale    float32 `json:"scale"`
	Center   Vector3 `json:"center"`
	Centered bool    `json:"centered"`
}

// Normalize computes the transform that fits m into a cube of edge
// targetSpan centered at the origin. Pure function of the geometry.
func Normalize(m *Mesh, targetSpan float32) Normalization {
	if targetSpan <= 0 {
		targetSpan = DefaultTargetSpan
	}
	if m.IsEmpty() {
		return Normalization{Scale: FallbackScale, Centered: true}
	}

	box := m.Bounds()
	scale := FallbackScale
	if maxDim := box.MaxDimension(); maxDim > 0 {
		scale = targetSpan / maxDim
	}

	return Normalization{Scale: scale, Center: box.Center(), Centered: true}
}

// Apply returns a new mesh with every vertex recentered and scaled. Facet
// normals are direction-only and carry over unchanged.
func (n Normalization) Apply(m *Mesh) *Mesh {
	if m.IsEmpty() {
		return &Mesh{}
	}

	out := &Mesh{
		Triangles: make([]Triangle, len(m.Triangles)),
		Normals:   append([]Vector3(nil), m.Normals...),
	}
	for i, tri := range m.Triangles {
		for j, v := range tri {
			out.Triangles[i][j] = v.Sub(n.Center).MulScalar(n.Scale)
		}
	}
	return out
}
