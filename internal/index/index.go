package index

// NoteIndex defines the interface for workspace note indexing operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type NoteIndex interface {
	UpsertDefinition(d DefinitionRow, notes []NoteRow) error
	DeleteDefinition(path string) error
	GetChecksum(path string) (string, error)
	AllChecksums() (map[string]string, error)
	Search(query string, limit int) ([]SearchResult, error)
	FindGUID(guid string) ([]SearchResult, error)
	Close() error
}

// Verify *DB satisfies NoteIndex at compile time.
var _ NoteIndex = (*DB)(nil)
