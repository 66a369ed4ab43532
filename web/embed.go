// Package web holds the server-rendered templates and static assets.
package web

import "embed"

// Templates holds the page templates. layout.html defines the shared frame.
//
//go:embed templates/*.html
var Templates embed.FS

// Static holds the stylesheet and images served under /static/.
//
//go:embed static
var Static embed.FS
