// Package rules declares how products are computed. A Rule maps a subject
// type and a product to either a constant value or a task body plus the
// selectors whose resolved values the body receives. A Registry collects the
// rules of one process; it rejects ambiguous registrations up front so that
// selection at run time is a plain exact-match lookup.
package rules
