package domain

import "sort"

// PositionBook holds open positions by id and by user, keeping each user's
// positions in open order. Not safe for concurrent use.
type PositionBook struct {
	byID   map[string]*Position
	byUser map[string][]*Position
}

func NewPositionBook() *PositionBook {
	return &PositionBook{
		byID:   make(map[string]*Position),
		byUser: make(map[string][]*Position),
	}
}

// Open adds a position. The id must not be open already.
func (b *PositionBook) Open(p *Position) error {
	if _, ok := b.byID[p.ID]; ok {
		return ErrDuplicatePosition
	}
	b.byID[p.ID] = p
	b.byUser[p.UserID] = append(b.byUser[p.UserID], p)
	return nil
}

// Get looks up an open position by id.
func (b *PositionBook) Get(id string) (*Position, bool) {
	p, ok := b.byID[id]
	return p, ok
}

// Close removes the position if it is open and owned by userID.
func (b *PositionBook) Close(userID, id string) (*Position, bool) {
	p, ok := b.byID[id]
	if !ok || p.UserID != userID {
		return nil, false
	}
	delete(b.byID, id)

	list := b.byUser[userID]
	for i, q := range list {
		if q.ID == id {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(b.byUser, userID)
	} else {
		b.byUser[userID] = list
	}
	return p, true
}

// ListOpen returns the user's open positions in open order.
func (b *PositionBook) ListOpen(userID string) []*Position {
	list := b.byUser[userID]
	out := make([]*Position, len(list))
	copy(out, list)
	return out
}

// ByAsset returns open positions on asset, users sorted, each user's
// positions in open order. The slice is a copy so callers may close while
// iterating.
func (b *PositionBook) ByAsset(asset string) []*Position {
	var out []*Position
	for _, userID := range b.users() {
		for _, p := range b.byUser[userID] {
			if p.Asset == asset {
				out = append(out, p)
			}
		}
	}
	return out
}

// Snapshot returns value copies of every open position.
func (b *PositionBook) Snapshot() []Position {
	out := make([]Position, 0, len(b.byID))
	for _, userID := range b.users() {
		for _, p := range b.byUser[userID] {
			out = append(out, *p)
		}
	}
	return out
}

func (b *PositionBook) Len() int {
	return len(b.byID)
}

func (b *PositionBook) users() []string {
	ids := make([]string, 0, len(b.byUser))
	for id := range b.byUser {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
