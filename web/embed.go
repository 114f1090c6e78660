// Package web holds the embedded page templates and static assets of the
// ledger front end.
package web

import "embed"

// TemplatesFS holds the page templates and their partials.
//
//go:embed templates/*.html
var TemplatesFS embed.FS

// StaticFS holds the stylesheet and the htmx glue script.
//
//go:embed static/*
var StaticFS embed.FS
