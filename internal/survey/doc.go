// Package survey decides whether, and when, to show the one-shot survey
// invitation.
//
// The scheduler reads persisted state (skip flag, remind-later timestamp)
// and the experiment assignment, computes a wait, and arms a single one-shot
// timer. When it fires, a three-choice prompt is presented; each choice
// persists state and either terminates the schedule or re-enters gating.
// State is reconstructed from the store at startup; only the live timer is
// in-memory.
package survey
