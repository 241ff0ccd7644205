// Package web embeds the landing page and the browser tracking snippet.
package web

import (
	"embed"
	"io/fs"
)

//go:embed public
var publicFS embed.FS

// Public returns the embedded files with the public/ prefix stripped.
func Public() fs.FS {
	sub, err := fs.Sub(publicFS, "public")
	if err != nil {
		panic(err)
	}
	return sub
}

// File returns one embedded file by name, or nil when it does not exist.
func File(name string) []byte {
	data, err := fs.ReadFile(Public(), name)
	if err != nil {
		return nil
	}
	return data
}
