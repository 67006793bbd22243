// Package lockout tracks time-boxed account suspensions.
//
// A lock carries an expiry and a human-readable reason. There is no timer:
// an expired lock is noticed and cleared by the next IsLocked call for that
// account, or by Sweep.
package lockout
