package template

import "embed"

// builtinFS embeds the built-in template documents, following the teacher's
// pkg/embedded pattern of shipping static assets inside the binary.
//
//go:embed defaults/*.yaml
var builtinFS embed.FS

const defaultsDir = "defaults"
