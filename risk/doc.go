// Package risk scores a login attempt against the account's recent history.
//
// [Detector.Assess] is a pure function of its inputs: the same history, time
// and attempt always produce the same [Assessment]. It never locks or blocks
// anything itself.
package risk
