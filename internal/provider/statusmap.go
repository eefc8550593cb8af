package provider

// StatusMap is an immutable description of one partner's status vocabulary:
// how each raw status folds into the canonical set, which raw statuses are
// terminal, and which ones count as an approval for document purposes.
type StatusMap struct {
	canonical    map[string]string
	final        map[string]struct{}
	approvedLike map[string]struct{}
}

func NewStatusMap(canonical map[string]string, final, approvedLike []string) StatusMap {
	m := StatusMap{
		canonical:    make(map[string]string, len(canonical)),
		final:        make(map[string]struct{}, len(final)),
		approvedLike: make(map[string]struct{}, len(approvedLike)),
	}
	for raw, status := range canonical {
		m.canonical[raw] = status
	}
	for _, raw := range final {
		m.final[raw] = struct{}{}
	}
	for _, raw := range approvedLike {
		m.approvedLike[raw] = struct{}{}
	}
	return m
}

func (m StatusMap) MapStatus(raw string) (string, bool) {
	status, ok := m.canonical[raw]
	return status, ok
}

func (m StatusMap) IsFinal(raw string) bool {
	_, ok := m.final[raw]
	return ok
}

func (m StatusMap) IsApprovedLike(raw string) bool {
	_, ok := m.approvedLike[raw]
	return ok
}
