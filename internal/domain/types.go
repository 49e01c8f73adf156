package domain

// OutputKind selects which artifact format the compiler produces.
type OutputKind string

const (
	// OutputKindMesh is an STL triangle mesh (binary or ASCII).
	OutputKindMesh OutputKind = "stl"
	// OutputKindImage is a rasterized PNG preview of the model.
	OutputKindImage OutputKind = "png"
)

// Extension returns the artifact file extension for this kind.
func (k OutputKind) Extension() string {
	return "." + string(k)
}

// Valid reports whether the kind is a supported output format.
func (k OutputKind) Valid() bool {
	return k == OutputKindMesh || k == OutputKindImage
}

// Settings contains user-selectable runtime configuration.
type Settings struct {
	CompilerPath         string  `json:"compilerPath"`
	ModelsDir            string  `json:"modelsDir"`
	LibrariesDir         string  `json:"librariesDir"`
	ListenAddr           string  `json:"listenAddr"`
	RenderTimeoutSeconds int     `json:"renderTimeoutSeconds"`
	ViewerTargetSpan     float64 `json:"viewerTargetSpan"`
}

// Artifact identifies one committed compiler output by a server-generated
// ref. Refs are valid only for the lifetime of the store that issued them.
type Artifact struct {
	Ref  string     `json:"ref"`
	Kind OutputKind `json:"kind"`
	Size int64      `json:"size"`
}
