package mcporch

import "github.com/subterminator/mcp-orchestrator/pkg/orchtypes"

// verifyCompletion independently checks a complete_task claim against the
// service's success/failure indicators for the final snapshot. The model's
// own claimedSuccess is deliberately not consulted here: the whole point of
// this check is that self-reported completion is never trusted on its own.
//
// When neither a success nor a failure indicator matches, verified is false
// and reason is the zero TaskReason: this is not a terminal outcome. The
// caller is expected to feed errMsg back to the model as a tool message and
// let the run continue, per the "only recovery path" described for a
// premature completion claim.
func verifyCompletion(cfg *orchtypes.ServiceConfig, snap orchtypes.NormalizedSnapshot) (verified, success bool, reason orchtypes.TaskReason, errMsg string) {
	succeeded := anyMatches(cfg.SuccessIndicators, snap)
	failed := anyMatches(cfg.FailureIndicators, snap)

	switch {
	case succeeded && !failed:
		return true, true, orchtypes.ReasonCompleted, ""
	case failed:
		return true, false, orchtypes.ReasonVerificationFailed,
			"a failure indicator matched the final page despite a completion claim"
	default:
		return false, false, "",
			"verification failed: completion could not be independently confirmed against the current page"
	}
}

func anyMatches(predicates []orchtypes.SnapshotPredicate, snap orchtypes.NormalizedSnapshot) bool {
	for _, p := range predicates {
		if safeMatch(p, snap) {
			return true
		}
	}
	return false
}

func safeMatch(p orchtypes.SnapshotPredicate, snap orchtypes.NormalizedSnapshot) (matched bool) {
	defer func() {
		if recover() != nil {
			matched = false
		}
	}()
	return p(snap)
}
