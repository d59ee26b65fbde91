// Package tokens provides heuristic token estimation for budget enforcement.
// Estimates start from a characters-per-token ratio and calibrate against
// real usage numbers reported by providers.
package tokens
