package event

// CanMerge reports whether next is a streaming continuation of prev: same
// session, same kind, and for messages the same speaker. Only message and
// thinking fragments merge; everything else is appended as-is.
func CanMerge(prev, next Event) bool {
	if prev.SessionID != next.SessionID || prev.Type != next.Type {
		return false
	}
	switch prev.Type {
	case TypeMessage:
		return prev.Message != nil && next.Message != nil &&
			prev.Message.Role == next.Message.Role &&
			prev.Message.IsUser == next.Message.IsUser
	case TypeThinking:
		return prev.Thinking != nil && next.Thinking != nil
	default:
		return false
	}
}

// Merge concatenates next's text onto prev and advances the timestamp.
// Concatenation is lossless: the merged content equals prev's content
// followed by next's. Callers must check CanMerge first.
func Merge(prev, next Event) Event {
	merged := prev
	switch prev.Type {
	case TypeMessage:
		m := *prev.Message
		m.Content += next.Message.Content
		merged.Message = &m
	case TypeThinking:
		t := *prev.Thinking
		t.Content += next.Thinking.Content
		merged.Thinking = &t
	}
	if next.Timestamp.After(merged.Timestamp) {
		merged.Timestamp = next.Timestamp
	}
	return merged
}
