// Package neterr classifies socket setup failures into a small closed set of
// kinds.
//
// Translation from platform errno values happens once, in the build-tagged
// classify files, when an error is wrapped with [Wrap]. Everything above this
// package only looks at [Kind].
package neterr
