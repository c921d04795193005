package chat

import (
	"sync"
)

// ViewTracker keeps, per live session, the conversation partner the viewer
// has open and whether the viewer asked for unseen tallies. State belongs to
// one connection: a replacing connection starts fresh, and a user without a
// live session has no state at all.
type ViewTracker struct {
	mu      sync.Mutex
	viewers map[string]*viewState
}

type viewState struct {
	session string
	active  string
	seeded  bool
}

func NewViewTracker() *ViewTracker {
	return &ViewTracker{viewers: make(map[string]*viewState)}
}

// Begin starts clean state for the viewer's new session, discarding whatever
// a previous session left.
func (t *ViewTracker) Begin(viewer, session string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.viewers[viewer] = &viewState{session: session}
}

// End drops the viewer's state if it still belongs to session.
func (t *ViewTracker) End(viewer, session string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.viewers[viewer]; ok && st.session == session {
		delete(t.viewers, viewer)
	}
}

// Seed records that the viewer's live session loaded the sidebar and wants
// tallies pushed from now on. It reports false when the viewer has no live
// session.
func (t *ViewTracker) Seed(viewer string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.viewers[viewer]
	if !ok {
		return false
	}
	st.seeded = true
	return true
}

// Open makes peer the active conversation of the viewer's session. An empty
// peer closes it. Calls from a session that has been replaced are ignored.
func (t *ViewTracker) Open(viewer, session, peer string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.viewers[viewer]
	if !ok || st.session != session {
		return false
	}
	st.active = peer
	return true
}

// Arrive reports what a message from sender means for the viewer's session:
// seenNow when that session has sender open, notify when it wants tallies.
func (t *ViewTracker) Arrive(viewer, session, sender string) (seenNow, notify bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.viewers[viewer]
	if !ok || st.session != session {
		return false, false
	}
	if st.active == sender {
		return true, false
	}
	return false, st.seeded
}

// Active returns the open conversation partner of the viewer's session.
func (t *ViewTracker) Active(viewer string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.viewers[viewer]; ok {
		return st.active
	}
	return ""
}

// Seeded reports whether the viewer's session wants tallies pushed.
func (t *ViewTracker) Seeded(viewer string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.viewers[viewer]
	return ok && st.seeded
}

func (t *ViewTracker) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.viewers)
}
