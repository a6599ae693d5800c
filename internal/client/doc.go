// Package client provides the worker-side HTTP client for the piertotum
// broker API.
//
// Every call is bounded by FetchTimeout and returns either a decoded
// response or a plain error value. Transport failures, timeouts, non-2xx
// statuses and malformed JSON are all normalized into returned errors;
// nothing in this package panics or lets an http error escape undecorated.
// That uniformity is what keeps the worker's autonomous loop error handling
// tractable: the loop only ever inspects error strings and the
// ErrNotRegistered sentinel.
package client
