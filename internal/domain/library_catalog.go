package domain

// LibraryOption describes one downloadable community include library.
type LibraryOption struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	FileName    string `json:"fileName"`
	URL         string `json:"url"`
	SizeLabel   string `json:"sizeLabel"`
	Description string `json:"description"`
}
