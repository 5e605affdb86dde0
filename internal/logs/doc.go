// Package logs reads the JSON log file for `mediadesk logs`.
//
// Tail returns the last lines with bounded memory and Follow polls for
// appended lines until its context ends. A log file that shrinks is read again
// from the start. FormatLine turns one JSON record into a compact console line.
package logs
