// Package recovery rebuilds the queue at daemon startup.
//
// Loader reads persisted jobs and repairs what an unclean exit left behind:
// jobs caught mid-encode are reclassified as auto-paused with wait metadata
// synthesized from their last progress tick, and segment files that no
// longer exist are dropped. The shutdown marker distinguishes a clean stop
// from a crash, and Startup turns both into the hint offered to the user
// before auto-paused jobs are resumed.
package recovery
