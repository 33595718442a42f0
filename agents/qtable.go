package agents

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// QTable maps observation keys to one value per discrete action.
type QTable struct {
	table   map[string][]float64
	actions int
}

func NewQTable(actions int) *QTable {
	return &QTable{
		table:   make(map[string][]float64),
		actions: actions,
	}
}

// Values returns the value row for state, creating a zero row on first use.
func (q *QTable) Values(state string) []float64 {
	if _, ok := q.table[state]; !ok {
		q.table[state] = make([]float64, q.actions)
	}
	return q.table[state]
}

func (q *QTable) Get(state string, action int) float64 {
	return q.Values(state)[action]
}

func (q *QTable) Set(state string, action int, val float64) {
	q.Values(state)[action] = val
}

// Max returns the best action for state and its value. Ties resolve to the
// lowest index so evaluation is deterministic.
func (q *QTable) Max(state string) (int, float64) {
	vals := q.Values(state)
	maxAction := 0
	maxVal := vals[0]
	for a := 1; a < len(vals); a++ {
		if vals[a] > maxVal {
			maxAction = a
			maxVal = vals[a]
		}
	}
	return maxAction, maxVal
}

// Size is the number of distinct states seen.
func (q *QTable) Size() int {
	return len(q.table)
}

type persistedQTable struct {
	Actions int                  `json:"actions"`
	Table   map[string][]float64 `json:"table"`
}

// Encode writes the table as JSON.
func (q *QTable) Encode(w io.Writer) error {
	return json.NewEncoder(w).Encode(persistedQTable{
		Actions: q.actions,
		Table:   q.table,
	})
}

// Decode replaces the table contents from an Encode stream. The stored
// action count must match the table's constructed shape.
func (q *QTable) Decode(r io.Reader) error {
	var in persistedQTable
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return errors.Wrap(err, "decoding q-table")
	}
	if in.Actions != q.actions {
		return errors.Errorf("q-table has %d actions, expected %d", in.Actions, q.actions)
	}
	for state, row := range in.Table {
		if len(row) != q.actions {
			return errors.Errorf("q-table row for %q has %d entries, expected %d", state, len(row), q.actions)
		}
	}
	if in.Table == nil {
		in.Table = make(map[string][]float64)
	}
	q.table = in.Table
	return nil
}
