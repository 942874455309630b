// Package provider defines the uniform contract for external document
// engines and the HTTP clients that implement it. A provider takes a
// resolved configuration and an input (bytes, text, or a retrieval URL),
// reports progress on its own 0-100 scale, and returns output bytes. The
// pipeline owns mapping provider progress into task progress bands.
package provider
