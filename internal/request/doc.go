// Package request describes logical outbound calls to the exchange.
//
// A Spec is immutable once built. Two specs with the same route and the same
// parameters (in any order) share a Fingerprint, which is the key used by the
// response cache and the single-flight table.
package request
