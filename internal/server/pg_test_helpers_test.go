package server

import (
	"time"
)

type stubRow struct {
	vals []any
	err  error
}

func (r *stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return fakeRow{vals: r.vals}.Scan(dest...)
}

type fakeRow struct {
	vals []any
}

func (r fakeRow) Scan(dest ...any) error {
	for i := range dest {
		if i >= len(r.vals) || r.vals[i] == nil {
			switch d := dest[i].(type) {
			case *string:
				*d = ""
			case *time.Time:
				*d = time.Time{}
			case *[]byte:
				*d = nil
			case **time.Time:
				*d = nil
			case *bool:
				*d = false
			case *int:
				*d = 0
			case *int64:
				*d = 0
			}
			continue
		}
		switch d := dest[i].(type) {
		case *string:
			*d = r.vals[i].(string)
		case *time.Time:
			*d = r.vals[i].(time.Time)
		case *[]byte:
			switch v := r.vals[i].(type) {
			case []byte:
				*d = append([]byte(nil), v...)
			case string:
				*d = []byte(v)
			default:
				*d = nil
			}
		case **time.Time:
			v := r.vals[i].(time.Time)
			*d = &v
		case *bool:
			*d = r.vals[i].(bool)
		case *int:
			*d = r.vals[i].(int)
		case *int64:
			*d = r.vals[i].(int64)
		}
	}
	return nil
}
