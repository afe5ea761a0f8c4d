// Package services contains the client-side state machines that sit
// between the backend facade and the CLI: session bootstrap, presence
// debouncing, the conversation directory, the message thread with its
// change-feed subscription, the composer, and the profile editor.
//
// Every service takes the backend interfaces, never concrete transports,
// so tests substitute fakes.
package services
