package fsm

// StateConfigBuilder configures the transitions out of one state
type StateConfigBuilder struct {
	config *stateConfig
}

func (b *StateConfigBuilder) permit(event Event, e *edge) *StateConfigBuilder {
	b.config.permits[event] = e
	return b
}

// Permit allows event to move the machine to next
func (b *StateConfigBuilder) Permit(event Event, next State) *StateConfigBuilder {
	return b.permit(event, &edge{target: next})
}

// PermitIf allows event to move the machine to next while guard holds
func (b *StateConfigBuilder) PermitIf(event Event, next State, guard Guard) *StateConfigBuilder {
	return b.permit(event, &edge{target: next, guard: guard})
}

// InternalTransition runs action on event without leaving the state.
// OnEntry and OnExit do not run.
func (b *StateConfigBuilder) InternalTransition(event Event, action Action) *StateConfigBuilder {
	return b.permit(event, &edge{target: b.config.state, actions: []Action{action}, internal: true})
}

// Ignore accepts event without doing anything
func (b *StateConfigBuilder) Ignore(event Event) *StateConfigBuilder {
	return b.permit(event, &edge{target: b.config.state, internal: true})
}

// OnEntry adds an action run whenever the state is entered
func (b *StateConfigBuilder) OnEntry(action Action) *StateConfigBuilder {
	b.config.entry = append(b.config.entry, action)
	return b
}

// OnExit adds an action run whenever the state is left
func (b *StateConfigBuilder) OnExit(action Action) *StateConfigBuilder {
	b.config.exit = append(b.config.exit, action)
	return b
}
