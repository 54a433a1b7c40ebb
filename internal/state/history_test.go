package state

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func point(x, y float64) ActionRecord {
	return ActionRecord{XPercent: x, YPercent: y, Color: "#000000", Size: 2}
}

func TestSnapshotKeepsArrivalOrder(t *testing.T) {
	h := NewHistory()
	var want []ActionRecord
	for i := 0; i < 10; i++ {
		r := point(float64(i)/10, 1-float64(i)/10)
		h.Append(r)
		want = append(want, r)
	}
	assert.Equal(t, want, h.Snapshot())
	assert.Equal(t, 10, h.HistoryIndex())
}

func TestUndoThenRedoRestores(t *testing.T) {
	h := NewHistory()
	h.Append(point(0.1, 0.1))
	h.Append(point(0.2, 0.2))
	actions, undo := h.Actions(), h.UndoDepth()

	_, err := h.Undo()
	require.NoError(t, err)
	_, err = h.Redo()
	require.NoError(t, err)

	assert.Equal(t, actions, h.Actions())
	assert.Equal(t, undo, h.UndoDepth())
	assert.Equal(t, 0, h.RedoDepth())
}

func TestUndoOnEmptyHistory(t *testing.T) {
	h := NewHistory()
	_, err := h.Undo()
	assert.ErrorIs(t, err, ErrEmptyHistory)
	_, err = h.Redo()
	assert.ErrorIs(t, err, ErrEmptyHistory)
	assert.Equal(t, 0, h.UndoDepth())
	assert.Equal(t, 0, h.RedoDepth())
	assert.Empty(t, h.Actions())
}

func TestClearEmptiesEverything(t *testing.T) {
	h := NewHistory()
	h.Append(point(0.1, 0.1))
	h.Append(point(0.2, 0.2))
	_, err := h.Undo()
	require.NoError(t, err)

	h.Clear()
	assert.Empty(t, h.Actions())
	assert.Empty(t, h.Snapshot())
	assert.Equal(t, 0, h.UndoDepth())
	assert.Equal(t, 0, h.RedoDepth())
}

func TestAppendInvalidatesRedo(t *testing.T) {
	h := NewHistory()
	h.Append(point(0.1, 0.1))
	h.Append(point(0.2, 0.2))
	_, err := h.Undo()
	require.NoError(t, err)
	require.Equal(t, 1, h.RedoDepth())

	h.Append(point(0.3, 0.3))
	assert.Equal(t, 0, h.RedoDepth())
	assert.Equal(t, []ActionRecord{point(0.1, 0.1), point(0.3, 0.3)}, h.Actions())
	assert.Equal(t, h.Actions(), h.Snapshot())
}

func TestUndoTwiceRedoOnce(t *testing.T) {
	h := NewHistory()
	a, b, c := point(0.1, 0.1), point(0.2, 0.2), point(0.3, 0.3)
	h.Append(a)
	h.Append(b)
	h.Append(c)

	_, err := h.Undo()
	require.NoError(t, err)
	v, err := h.Undo()
	require.NoError(t, err)
	assert.Equal(t, View{HistoryIndex: 1, State: []ActionRecord{a}}, v)

	v, err = h.Redo()
	require.NoError(t, err)
	assert.Equal(t, 2, h.UndoDepth())
	assert.Equal(t, 1, h.RedoDepth())
	assert.Equal(t, View{HistoryIndex: 2, State: []ActionRecord{a, b}}, v)
	assert.Len(t, h.Actions(), 3)
}

func TestSnapshotIsACopy(t *testing.T) {
	h := NewHistory()
	h.Append(point(0.1, 0.1))
	snap := h.Snapshot()
	snap[0].Color = "#ffffff"
	assert.Equal(t, "#000000", h.Snapshot()[0].Color)
}

func TestActionRecordJSON(t *testing.T) {
	b, err := json.Marshal([]ActionRecord{point(0.1, 0.2)})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"xPercent":0.1,"yPercent":0.2,"color":"#000000","size":2}]`, string(b))

	b, err = json.Marshal(ActionRecord{Kind: KindBeginPath})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"kind":"beginPath"`)

	var r ActionRecord
	require.NoError(t, json.Unmarshal([]byte(`{"xPercent":0.5,"yPercent":0.5,"color":"#abc","size":3,"type":"dotted"}`), &r))
	assert.Equal(t, StyleDotted, r.Style)
	assert.Equal(t, KindStrokePoint, r.Kind)
	assert.Error(t, json.Unmarshal([]byte(`{"type":"sparkly"}`), &r))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		rec  ActionRecord
		err  error
	}{
		{"ok", point(0, 1), nil},
		{"x too big", point(1.5, 0), ErrInvalidCoordinate},
		{"y negative", point(0, -0.1), ErrInvalidCoordinate},
		{"bad color", ActionRecord{XPercent: 0.5, YPercent: 0.5, Color: "red", Size: 1}, ErrInvalidColor},
		{"zero size", ActionRecord{XPercent: 0.5, YPercent: 0.5, Color: "#fff", Size: 0}, ErrInvalidSize},
		{"marker", BeginPath(), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Validate()
			if tt.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.err)
		})
	}
}
