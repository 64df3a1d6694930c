// Package checkpoint remembers, per search query, where the next run should
// start and what earlier runs did.
//
// Each query gets one JSON file in the checkpoints directory (by default
// under the XDG data home, in pexelsync/checkpoints). Files are replaced
// atomically. A completed run advances the query's next offset past the
// window it covered, so "run --resume" continues with fresh results.
package checkpoint
