// Package cli implements the interactive chat client: a read-eval-print
// loop over the session, directory, thread, composer, presence, and
// profile services.
package cli
