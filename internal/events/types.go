package events

// Event enumerates high-level topics inside the risk core.
type Event string

const (
	EventOrderAdmitted  Event = "order.admitted"
	EventOrderRejected  Event = "order.rejected"
	EventOrderFilled    Event = "order.filled"
	EventRiskAlert      Event = "risk.alert"
	EventEmergencyStop  Event = "risk.emergency_stop"
	EventModeChanged    Event = "mode.changed"
	EventTargetAchieved Event = "target.achieved"
	EventAccountHalted  Event = "account.halted"
)
