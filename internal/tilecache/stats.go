package tilecache

// Stats is a point-in-time summary of a cache.
type Stats struct {
	State         string `json:"state"`
	Entries       int    `json:"entries"`
	Positional    int    `json:"positional_entries"`
	Records       int    `json:"records"`
	Leaves        int    `json:"leaves"`
	Depth         int    `json:"depth"`
	Page          int    `json:"page"`
	Offset        int64  `json:"offset"`
	FormatVersion int32  `json:"format_version"`
	FormatLabel   string `json:"format_label,omitempty"`
	// StoredVersion is the format the open entries were written under; it
	// differs from FormatVersion after SetFormatDescriptor on an open cache.
	StoredVersion int32 `json:"stored_version"`
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Stats{
		State:         c.state.String(),
		FormatVersion: c.format.Version,
		FormatLabel:   c.format.Label,
	}
	if c.state == StateClosed {
		return st
	}
	st.StoredVersion = c.version
	st.Entries = c.dir.Len()
	st.Positional = c.index.Len()
	st.Records = len(c.dir.Locations())
	st.Leaves = len(c.index.Leaves())
	st.Depth = c.index.Depth()
	st.Page = c.store.PageNumber()
	st.Offset = c.store.CurrentOffset()
	return st
}
