package taskname

const (
	// Settlement tasks
	SettlementRun = "settlement:run"

	// Notification tasks
	NotifyDispatch = "notify:dispatch"
)
