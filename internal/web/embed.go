package web

import "embed"

// DistFS carries the compiled React app. Before a UI build runs, dist/
// holds only a placeholder index.html so the binary still serves something.
//
//go:embed dist/*
var DistFS embed.FS
