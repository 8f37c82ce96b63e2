// Package job implements the §4.4 job service: the transition graph,
// dedup-aware creation, and progress update rules, built on top of
// repository.JobRepository and publishing to the event bus.
package job

import "github.com/schmacka/printernizer-sub001/repository"

// transitions is the §4.4 transition graph. force=true bypasses it
// entirely (admin recovery only); everything else must find its target
// status in this table to be allowed.
var transitions = map[repository.JobStatus][]repository.JobStatus{
	repository.JobStatusPending: {
		repository.JobStatusRunning, repository.JobStatusPrinting,
		repository.JobStatusCompleted, repository.JobStatusFailed, repository.JobStatusCancelled,
	},
	repository.JobStatusQueued: {
		repository.JobStatusRunning, repository.JobStatusPrinting, repository.JobStatusPreparing,
		repository.JobStatusCompleted, repository.JobStatusFailed, repository.JobStatusCancelled,
	},
	repository.JobStatusPreparing: {
		repository.JobStatusPrinting, repository.JobStatusRunning,
		repository.JobStatusCompleted, repository.JobStatusFailed, repository.JobStatusCancelled,
	},
	repository.JobStatusRunning: {
		repository.JobStatusCompleted, repository.JobStatusFailed,
		repository.JobStatusCancelled, repository.JobStatusPaused,
	},
	repository.JobStatusPrinting: {
		repository.JobStatusCompleted, repository.JobStatusFailed,
		repository.JobStatusCancelled, repository.JobStatusPaused,
	},
	repository.JobStatusPaused: {
		repository.JobStatusRunning, repository.JobStatusPrinting,
		repository.JobStatusCompleted, repository.JobStatusFailed, repository.JobStatusCancelled,
	},
	repository.JobStatusCompleted: {repository.JobStatusFailed},
	repository.JobStatusFailed:    {repository.JobStatusCompleted},
	repository.JobStatusCancelled: {},
}

var terminalStatuses = map[repository.JobStatus]bool{
	repository.JobStatusCompleted: true,
	repository.JobStatusFailed:    true,
	repository.JobStatusCancelled: true,
}

func isTerminal(status repository.JobStatus) bool {
	return terminalStatuses[status]
}

func entersRunning(status repository.JobStatus) bool {
	return status == repository.JobStatusRunning || status == repository.JobStatusPrinting
}

// allowedTransition reports whether from → to is a legal edge in the
// §4.4 graph.
func allowedTransition(from, to repository.JobStatus) bool {
	if from == to {
		return true
	}
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

func allowedTargets(from repository.JobStatus) []string {
	targets := transitions[from]
	out := make([]string, len(targets))
	for i, t := range targets {
		out[i] = string(t)
	}
	return out
}
