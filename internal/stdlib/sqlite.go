package stdlib

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"loxy-vm/internal/heap"
	"loxy-vm/internal/value"
)

// sqliteState holds the open database handles of one VM. Handles are plain
// numbers on the language side.
type sqliteState struct {
	handles map[int]*sql.DB
	nextID  int
}

func registerSQLite(define func(name string, arity int, fn heap.NativeFn)) {
	s := &sqliteState{handles: make(map[int]*sql.DB), nextID: 1}
	define("sqlite_open", 1, s.open)
	define("sqlite_exec", 2, s.exec)
	define("sqlite_query", 2, s.query)
	define("sqlite_close", 1, s.close)
}

func (s *sqliteState) open(h *heap.Heap, args []value.Value) (value.Value, error) {
	path, ok := argString(h, args[0])
	if !ok {
		return value.Value{}, fmt.Errorf("sqlite_open expects a path string")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return value.Value{}, fmt.Errorf("sqlite_open: %s", err)
	}
	id := s.nextID
	s.nextID++
	s.handles[id] = db
	return value.NewNumber(float64(id)), nil
}

func (s *sqliteState) db(v value.Value) (*sql.DB, error) {
	if !v.IsNumber() {
		return nil, fmt.Errorf("expected a database handle")
	}
	db, ok := s.handles[int(v.AsNumber)]
	if !ok {
		return nil, fmt.Errorf("unknown database handle %s", value.FormatNumber(v.AsNumber))
	}
	return db, nil
}

func (s *sqliteState) exec(h *heap.Heap, args []value.Value) (value.Value, error) {
	db, err := s.db(args[0])
	if err != nil {
		return value.Value{}, fmt.Errorf("sqlite_exec: %s", err)
	}
	stmt, ok := argString(h, args[1])
	if !ok {
		return value.Value{}, fmt.Errorf("sqlite_exec expects a statement string")
	}
	res, err := db.Exec(stmt)
	if err != nil {
		return value.Value{}, fmt.Errorf("sqlite_exec: %s", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		affected = 0
	}
	return value.NewNumber(float64(affected)), nil
}

// query returns the result set as one string: columns joined by '|', rows by
// newlines. The language has no aggregate types, so text is the interchange.
func (s *sqliteState) query(h *heap.Heap, args []value.Value) (value.Value, error) {
	db, err := s.db(args[0])
	if err != nil {
		return value.Value{}, fmt.Errorf("sqlite_query: %s", err)
	}
	stmt, ok := argString(h, args[1])
	if !ok {
		return value.Value{}, fmt.Errorf("sqlite_query expects a statement string")
	}

	rows, err := db.Query(stmt)
	if err != nil {
		return value.Value{}, fmt.Errorf("sqlite_query: %s", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return value.Value{}, fmt.Errorf("sqlite_query: %s", err)
	}

	var out []string
	for rows.Next() {
		cells := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return value.Value{}, fmt.Errorf("sqlite_query: %s", err)
		}
		fields := make([]string, len(cols))
		for i, cell := range cells {
			switch c := cell.(type) {
			case nil:
				fields[i] = ""
			case []byte:
				fields[i] = string(c)
			default:
				fields[i] = fmt.Sprintf("%v", c)
			}
		}
		out = append(out, strings.Join(fields, "|"))
	}
	if err := rows.Err(); err != nil {
		return value.Value{}, fmt.Errorf("sqlite_query: %s", err)
	}
	return value.NewObject(h.AllocString(strings.Join(out, "\n"))), nil
}

func (s *sqliteState) close(h *heap.Heap, args []value.Value) (value.Value, error) {
	if !args[0].IsNumber() {
		return value.Value{}, fmt.Errorf("sqlite_close expects a database handle")
	}
	id := int(args[0].AsNumber)
	db, ok := s.handles[id]
	if !ok {
		return value.Value{}, fmt.Errorf("sqlite_close: unknown database handle %d", id)
	}
	delete(s.handles, id)
	if err := db.Close(); err != nil {
		return value.Value{}, fmt.Errorf("sqlite_close: %s", err)
	}
	return value.NewNil(), nil
}
