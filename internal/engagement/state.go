package engagement

// State is the automation state derived from the stored fields. Responding is
// never persisted; the orchestrator holds it while a pipeline is in flight.
type State string

const (
	StateActive     State = "active"
	StateResponding State = "responding"
	StateCapReached State = "cap_reached"
	StateDisabled   State = "disabled"
)

func (e *Engagement) State() State {
	if e == nil {
		return StateDisabled
	}
	if e.Status == StatusDisabled {
		return StateDisabled
	}
	if e.Conversation == nil {
		return StateActive
	}
	if !e.Conversation.AutoResponseEnabled {
		return StateDisabled
	}
	if e.Conversation.CapReached() {
		return StateCapReached
	}
	return StateActive
}
