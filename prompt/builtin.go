package prompt

import (
	"embed"
	"io/fs"
)

// BuiltinLabel is the root label shown for bundled prompts in filenames and
// not-found errors.
const BuiltinLabel = "<builtin>"

//go:embed builtin
var builtinFiles embed.FS

// Builtin returns the bundled prompt library, rooted so that names look like
// "developers/golang.md".
func Builtin() fs.FS {
	sub, err := fs.Sub(builtinFiles, "builtin")
	if err != nil {
		// Only fails for an invalid literal path.
		panic(err)
	}
	return sub
}
