package store

import (
	"io/fs"
	"testing/fstest"
)

// newEmbeddedFS wraps the single embedded schema.sql as an in-memory
// fs.FS under migrations/, the layout goose.NewProvider expects.
func newEmbeddedFS(schema string) fs.FS {
	return fstest.MapFS{
		"migrations/00001_init.sql": &fstest.MapFile{Data: []byte(schema)},
	}
}
