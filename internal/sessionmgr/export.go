package sessionmgr

import "github.com/haasonsaas/agentgate/pkg/models"

// Export returns a snapshot of a session's record suitable for
// round-tripping through Import, e.g. for the gateway's session
// export/import routes.
func (m *Manager) Export(id string) (*Record, error) {
	e, err := m.lockedEntry(id)
	if err != nil {
		if e != nil {
			e.mu.Unlock()
		}
		return nil, err
	}
	defer e.mu.Unlock()

	msgs := make([]models.Message, len(e.record.Messages))
	copy(msgs, e.record.Messages)
	sess := e.record.Session
	return &Record{Session: sess, Messages: msgs}, nil
}

// Import loads rec as a new (or replacement) session, persisting it.
func (m *Manager) Import(rec *Record) error {
	e, err := m.lockedEntry(rec.Session.ID)
	if err != nil && err != ErrNotFound {
		return err
	}

	msgs := make([]models.Message, len(rec.Messages))
	copy(msgs, rec.Messages)
	e.record = &Record{Session: rec.Session, Messages: msgs}
	e.record.Session.MessageCount = len(msgs)

	err = m.store.Save(e.record)
	e.mu.Unlock()
	return err
}
