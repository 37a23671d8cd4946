package domain

// Unread holds per-chat unread counts of one user.
type Unread struct {
	UserID string
	ByChat map[string]int64
}

func (u Unread) Total() int64 {
	var n int64
	for _, c := range u.ByChat {
		n += c
	}
	return n
}
