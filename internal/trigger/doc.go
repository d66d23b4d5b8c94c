// Package trigger attributes observed measurement values to their cause.
//
// Before vendorsync asks the vendor to change a parameter it records the
// target value and the requesting source in the shared store under
// state_change_req/{parameter}. When a value arrives later, from a push or
// a poll, Attribute compares it with the recorded target using exact decimal
// equality. A match yields the recorded source; anything else is OnDevice.
//
// Attribution is a heuristic: it cannot tell a requested change from a
// manual change to the same value made while the request is outstanding.
// Records have no expiry and are not removed on a match, so a later
// observation of the same value is still attributed to the old request
// until the next request for that parameter overwrites it.
package trigger
