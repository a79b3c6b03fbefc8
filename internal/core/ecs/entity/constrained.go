package entity

// EnterConstrained opens a window in which readers may run in parallel and
// structural changes are refused. Windows nest.
func (m *Manager) EnterConstrained() {
	m.constrained.Add(1)
}

// LeaveConstrained closes a window opened by EnterConstrained. Leaving more
// often than entering is a caller bug; it is logged and the count stays at zero.
func (m *Manager) LeaveConstrained() {
	if m.constrained.Add(-1) < 0 {
		m.log.Error("constrained mode left more often than entered")
		m.constrained.Store(0)
	}
}

func (m *Manager) IsConstrained() bool {
	return m.constrained.Load() > 0
}
