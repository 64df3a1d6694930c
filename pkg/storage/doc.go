// Package storage manages the per-run working directory that holds
// downloaded images until they are uploaded.
//
// Files are written to a temporary name and renamed into place, so a file
// with its final name is always complete. Cleanup removes the directory
// whatever the outcome of the run.
package storage
