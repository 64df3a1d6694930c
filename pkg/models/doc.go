// Package models holds the types shared by the search, upload and
// reporting stages of a run.
package models
