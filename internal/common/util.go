// Package common holds small helpers shared across the client layers.
package common

// WipeByteArray overwrites the contents of the provided byte slice with
// zeros. Used to clear password buffers once they have been handed to the
// auth service. Safe to call with nil.
func WipeByteArray(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
