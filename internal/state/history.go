package state

import "errors"

// ErrEmptyHistory is returned by Undo and Redo when there is nothing to move.
var ErrEmptyHistory = errors.New("empty history")

// View is what participants need to re-render after undo or redo: how many
// records of the log are visible and the records themselves.
type View struct {
	HistoryIndex int            `json:"historyIndex"`
	State        []ActionRecord `json:"state"`
}

// History is the drawing log of one session plus its undo and redo stacks.
//
// The undo stack always mirrors the visible prefix of the log and the redo
// stack holds the hidden tail in reverse, so the visible canvas is
// actions[:len(undo)]. History is not safe for concurrent use; a Session
// owns it and serializes every call.
type History struct {
	actions []ActionRecord
	undo    []ActionRecord
	redo    []ActionRecord
}

// NewHistory returns an empty history.
func NewHistory() *History {
	return &History{}
}

// Append records new forward progress. Anything that was undone is dropped
// from the log together with the redo stack.
func (h *History) Append(r ActionRecord) {
	if len(h.redo) > 0 {
		h.actions = h.actions[:len(h.undo)]
		h.redo = nil
	}
	h.actions = append(h.actions, r)
	h.undo = append(h.undo, r)
}

// Undo hides the most recent visible record.
func (h *History) Undo() (View, error) {
	if len(h.undo) == 0 {
		return View{}, ErrEmptyHistory
	}
	last := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]
	h.redo = append(h.redo, last)
	return h.view(), nil
}

// Redo shows the most recently hidden record again.
func (h *History) Redo() (View, error) {
	if len(h.redo) == 0 {
		return View{}, ErrEmptyHistory
	}
	last := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]
	h.undo = append(h.undo, last)
	return h.view(), nil
}

// Clear is a hard reset: it empties the log and both stacks and cannot be
// undone.
func (h *History) Clear() {
	h.actions = nil
	h.undo = nil
	h.redo = nil
}

// Snapshot returns the records a new participant replays on a blank canvas,
// in arrival order.
func (h *History) Snapshot() []ActionRecord {
	return clone(h.actions[:len(h.undo)])
}

// Actions returns the whole log, including records hidden by undo.
func (h *History) Actions() []ActionRecord {
	return clone(h.actions)
}

// HistoryIndex is the number of visible records.
func (h *History) HistoryIndex() int { return len(h.undo) }

func (h *History) UndoDepth() int { return len(h.undo) }

func (h *History) RedoDepth() int { return len(h.redo) }

func (h *History) view() View {
	return View{HistoryIndex: len(h.undo), State: h.Snapshot()}
}

func clone(rs []ActionRecord) []ActionRecord {
	out := make([]ActionRecord, len(rs))
	copy(out, rs)
	return out
}
