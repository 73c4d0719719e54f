// Package edm decodes and encodes event data model records.
//
// An event is a six-cell JSON array:
//
//	[subject, begin, end, "Domain", [concepts...], {context}]
//
// The context object carries the patient id, a time interval, the domain tag
// and the domain's facts. Decode parses a record into an Event whose Facts
// field holds one of the nine domain payload types; Encode writes it back.
// Records already in canonical form re-encode to identical bytes. The begin
// and end cells, source, misc and Demographics info are kept as the exact
// bytes that were read.
//
// Decoding errors are *DecodeError values carrying a Kind, a dotted path into
// the record and a byte offset. Match them with errors.Is against ErrSyntax,
// ErrMalformedEnvelope, ErrShapeMismatch, ErrUnknownDomain and ErrInvalidFacts.
package edm
