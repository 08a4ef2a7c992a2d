package migration

var initializedMigrations = make(map[int]bool)

// Initialize registers the go migrations with goose. Calling it more than once is a no-op.
func Initialize() {
	initialize20261001090500()
}
