package priority

// Rule tables. Matching is against the lowercased payload value.
var (
	criticalSystems = map[string]struct{}{
		"refrigeration": {},
		"freezer":       {},
		"fire safety":   {},
		"security":      {},
	}

	highPriorityAreas = map[string]struct{}{
		"kitchen":      {},
		"drive-thru":   {},
		"order system": {},
	}

	breakdownSeverity = map[string]Tier{
		"complete":     Critical,
		"partial":      High,
		"intermittent": Medium,
		"cosmetic":     Low,
	}

	issuePriority = map[string]Tier{
		"urgent": High,
		"high":   High,
		"medium": Medium,
		"low":    Low,
	}

	issueStatus = map[string]Tier{
		"created":     High,
		"new":         High,
		"in_progress": Medium,
		"in progress": Medium,
		"resolved":    Low,
		"completed":   Low,
	}

	issueCategories = map[string]struct{}{
		"issue_created":  {},
		"issue_updated":  {},
		"status_changed": {},
		"comment_added":  {},
	}

	userCategories = map[string]struct{}{
		"user_login":    {},
		"user_logout":   {},
		"user_register": {},
		"role_changed":  {},
	}
)

// Payload keys read by the rules.
const (
	KeyEquipmentType         = "equipmentType"
	KeyArea                  = "area"
	KeySeverity              = "severity"
	KeyDueDate               = "dueDate"
	KeyScheduledDate         = "scheduledDate"
	KeyAssignedToCurrentUser = "assignedToCurrentUser"
	KeyMentionsCurrentUser   = "mentionsCurrentUser"
	KeyPriority              = "priority"
	KeyStatus                = "status"
	KeyNewStatus             = "newStatus"
	KeyAction                = "action"
)

// Due-date buckets in whole calendar days from today.
const (
	dueThisWeek = 7
	dueNextWeek = 14
)
