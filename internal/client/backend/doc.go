// Package backend is the client's facade over the hosted backend: the
// auth service, the row-level record API and its named procedures, the
// realtime change-feed, and the object-storage bucket for avatars.
//
// Nothing in this package owns durable state or business rules; it maps
// typed Go calls onto remote endpoints and remote events onto typed Go
// values. The remote side owns all invariants.
package backend
