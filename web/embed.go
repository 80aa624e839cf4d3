package web

import "embed"

// TemplatesFS holds the layout, the shared partials and one file per screen.
//
//go:embed templates
var TemplatesFS embed.FS

// StaticFS embeds static assets (css/js).
//
//go:embed static
var StaticFS embed.FS
