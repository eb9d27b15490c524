// Package jinja adapts the gonja Jinja2 engine to prompt files.
//
// Templates are loaded through an Environment, which owns the loader, the
// registered filters, tests and globals, and a cache of compiled templates:
//
//	env := jinja.NewEnvironment(
//	    jinja.NewFSLoader(jinja.Root{Label: dir, FS: os.DirFS(dir)}),
//	    jinja.WithTrimBlocks(true),
//	    jinja.WithLstripBlocks(true),
//	)
//	tmpl, err := env.GetTemplate("tasks/review.md")
//	if err != nil {
//	    return err
//	}
//	out, err := tmpl.Render(map[string]any{"language": "Go"})
//
// Lexing, parsing and evaluation are gonja's. This package supplies the
// loader chain, the include, import, set, with and filter statements, the
// compiled-template cache, static analysis of free variables, and the
// mapping of gonja's failures onto the errors package.
//
// Macros, call blocks, extends and blocks work as in Jinja2. Include,
// import and extends names are always relative to the loader roots, never
// to the including template.
//
// # Undefined values
//
// Undefined handling is always strict. Printing, iterating, comparing or
// doing arithmetic with a missing variable, attribute or item fails with
// *errors.UndefinedError. The defined and undefined tests and the default
// filter are the only ways to use one safely.
//
// # Limits
//
// Integer arithmetic that overflows int64 continues in float64, where
// Jinja would switch to big integers. Repeating a string or list with *
// fails with *errors.RenderError past 1 MiB or 1<<20 items, and range()
// is capped at 100000 items, as in Jinja's sandbox.
//
// # Differences from Jinja2
//
// Autoescaping is off and cannot be enabled per environment. Maps iterate
// in sorted key order.
package jinja
