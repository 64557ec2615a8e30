// Package parse turns raw model text into validated structured payloads.
//
// Models are asked to answer with a strict JSON object but occasionally wrap
// it in a markdown fence or emit unescaped quotes inside string values. The
// package strips fences, attempts a strict parse, and applies one bounded
// repair pass specific to the target shape before giving up with a typed
// error. The repair heuristics are a best-effort compatibility shim for a
// non-deterministic text generator, not a general JSON fixer; they never
// leak outside this package.
package parse
