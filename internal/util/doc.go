// Package util provides small helpers shared by the oauth2u packages.
//
// Key utilities:
//   - SafeTruncate: truncates secrets to a loggable prefix
package util
