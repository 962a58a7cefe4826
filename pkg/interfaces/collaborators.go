package interfaces

// Renderer turns user markup into safe HTML
// FUNCTIONAL DISCOVERY: Must be pure; sanitization is the renderer's responsibility
type Renderer interface {
	Render(markup string) string
}

// BlobStore persists submitted upload bytes
type BlobStore interface {
	// Write stores data for id and returns the path it was persisted to
	Write(id string, fileName string, data []byte) (string, error)

	// Path resolves the on-disk location for a stored resource
	Path(id string, fileName string) string
}
