package domain

var transitions = map[string][]string{
	StatusDraft:         {StatusReviewPending, StatusApproved, StatusRejected, StatusArchived},
	StatusReviewPending: {StatusApproved, StatusRejected, StatusArchived},
	StatusApproved:      {StatusPublished, StatusReviewPending, StatusArchived},
	StatusRejected:      {StatusReviewPending, StatusArchived},
	StatusPublished:     {StatusArchived},
}

// IsStatus reports whether s is a known review status.
func IsStatus(s string) bool {
	if s == StatusArchived {
		return true
	}
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether the review workflow allows from -> to.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
