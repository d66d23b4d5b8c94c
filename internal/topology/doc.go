// Package topology stores the vendor gateway, device and parameter metadata
// in SQLite.
//
// Rows are created on first sight and never rewritten by later logins; only
// gateway properties such as the online flag are updated in place.
package topology
