package store

import "context"

// Label represents a business label.
type Label struct {
	SessionID string
	LabelID   string
	Name      string
	Color     int
}

// LabelStore handles label and association operations.
type LabelStore struct {
	store *Store
}

// NewLabelStore creates a new LabelStore.
func NewLabelStore(s *Store) *LabelStore {
	return &LabelStore{store: s}
}

// Put stores or updates a label.
func (s *LabelStore) Put(ctx context.Context, l *Label) error {
	return s.store.Upsert(ctx, TableLabels, l.SessionID, Row{
		"label_id": l.LabelID,
		"name":     nullString(l.Name),
		"color":    l.Color,
	})
}

// Get retrieves a label by id.
func (s *LabelStore) Get(ctx context.Context, sessionID, labelID string) (*Label, error) {
	row, err := s.store.Get(ctx, TableLabels, sessionID, Row{"label_id": labelID}, true)
	if err != nil || row == nil {
		return nil, err
	}
	return labelFromRow(row), nil
}

// GetAll retrieves all labels of a session.
func (s *LabelStore) GetAll(ctx context.Context, sessionID string) ([]*Label, error) {
	rows, err := s.store.List(ctx, TableLabels, sessionID, "", nil, true)
	if err != nil {
		return nil, err
	}
	labels := make([]*Label, len(rows))
	for i, row := range rows {
		labels[i] = labelFromRow(row)
	}
	return labels, nil
}

// Associate assigns a label to a chat or message target.
func (s *LabelStore) Associate(ctx context.Context, sessionID, labelID, targetJID, targetType string) error {
	if targetType == "" {
		targetType = "chat"
	}
	return s.store.Upsert(ctx, TableLabelAssociations, sessionID, Row{
		"label_id":    labelID,
		"target_jid":  targetJID,
		"target_type": targetType,
	})
}

// Dissociate removes a label assignment.
func (s *LabelStore) Dissociate(ctx context.Context, sessionID, labelID, targetJID string) error {
	return s.store.Delete(ctx, TableLabelAssociations, sessionID, Row{
		"label_id":   labelID,
		"target_jid": targetJID,
	}, false)
}

// Targets retrieves the targets to which a label is assigned.
func (s *LabelStore) Targets(ctx context.Context, sessionID, labelID string) ([]string, error) {
	rows, err := s.store.List(ctx, TableLabelAssociations, sessionID, "label_id = ?", []interface{}{labelID}, false)
	if err != nil {
		return nil, err
	}
	targets := make([]string, len(rows))
	for i, row := range rows {
		targets[i] = rowString(row, "target_jid")
	}
	return targets, nil
}

// Delete soft-deletes a label.
func (s *LabelStore) Delete(ctx context.Context, sessionID, labelID string) error {
	return s.store.Delete(ctx, TableLabels, sessionID, Row{"label_id": labelID}, true)
}

func labelFromRow(row Row) *Label {
	return &Label{
		SessionID: rowString(row, "session_id"),
		LabelID:   rowString(row, "label_id"),
		Name:      rowString(row, "name"),
		Color:     rowInt(row, "color"),
	}
}
