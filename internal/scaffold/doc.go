// Package scaffold generates the minimal CLI-owned project skeleton for
// `modkit init` from embedded templates: the runtime composition file with
// its wiring markers, a package.json stub, and a .gitignore. It never
// overwrites files that already exist.
package scaffold
