// Package persona defines the immutable registry of analyst personas that
// participate in a deliberation. Each persona pairs an identifier with a
// descriptive brief and a focus directive that shape its prompt. The catalog
// is built once at process start and is safe for unsynchronized concurrent
// reads.
package persona
