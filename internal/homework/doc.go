// Package homework talks to the homework status API: it fetches raw
// responses, checks their shape and turns records into notification text.
//
// Validation and translation are pure; callers decide what to log.
package homework
