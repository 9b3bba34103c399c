// Package web holds the page shell templates and static assets compiled into
// the console binary.
package web

import "embed"

// Templates embeds layouts, partials and pages.
//
//go:embed templates/**/*.html
var Templates embed.FS

// Static embeds assets served under /assets/.
//
//go:embed static/**/*
var Static embed.FS
