// Package query parses list parameters shared by every CRUD resource:
// filters with operator suffixes, sort keys, field projection and pagination.
package query

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// FieldType tells the parser how to convert a raw query value.
type FieldType int

const (
	String FieldType = iota
	Number
	Bool
	Time
)

// Operator is a comparison applied to a field.
type Operator string

const (
	OpEq  Operator = "eq"
	OpNe  Operator = "ne"
	OpGt  Operator = "gt"
	OpGte Operator = "gte"
	OpLt  Operator = "lt"
	OpLte Operator = "lte"
	OpIn  Operator = "in"
)

var operators = map[Operator]bool{OpEq: true, OpNe: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true, OpIn: true}

// Condition is one parsed filter. Value is []any for OpIn.
type Condition struct {
	Field string
	Op    Operator
	Value any
}

type SortField struct {
	Field string
	Desc  bool
}

// ListQuery is the parsed form of a list request.
type ListQuery struct {
	Conditions []Condition
	Sort       []SortField
	Fields     []string
	Page       int
	Limit      int
}

// Skip is the number of documents before the requested page.
func (q ListQuery) Skip() int64 {
	return int64((q.Page - 1) * q.Limit)
}

// FieldErrors maps a parameter name to what is wrong with it.
type FieldErrors map[string]string

func (e FieldErrors) Error() string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e[k])
	}
	return "invalid query: " + strings.Join(parts, "; ")
}

var (
	keyPattern   = regexp.MustCompile(`^([a-z][a-z0-9_.]*)(?:\[([a-z]+)\])?$`)
	fieldPattern = regexp.MustCompile(`^[a-z][a-z0-9_.]*$`)
	reserved     = map[string]bool{"page": true, "limit": true, "sort": true, "fields": true}
)

// Parse converts URL values into a ListQuery. Only fields present in allowed may be
// filtered or sorted on; created_at is always sortable.
func Parse(values url.Values, allowed map[string]FieldType) (ListQuery, error) {
	q := ListQuery{Page: DefaultPage, Limit: DefaultLimit}
	errs := FieldErrors{}

	if v := values.Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			q.Page = n
		} else {
			errs["page"] = "must be a positive integer"
		}
	}
	if v := values.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			q.Limit = min(n, MaxLimit)
		} else {
			errs["limit"] = "must be a positive integer"
		}
	}

	if v := values.Get("sort"); v != "" {
		for _, raw := range strings.Split(v, ",") {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			sf := SortField{Field: strings.TrimPrefix(raw, "-"), Desc: strings.HasPrefix(raw, "-")}
			if _, ok := allowed[sf.Field]; !ok && sf.Field != "created_at" {
				errs["sort"] = fmt.Sprintf("cannot sort by %q", sf.Field)
				continue
			}
			q.Sort = append(q.Sort, sf)
		}
	}

	if v := values.Get("fields"); v != "" {
		for _, f := range strings.Split(v, ",") {
			f = strings.TrimSpace(f)
			if f == "" {
				continue
			}
			if !fieldPattern.MatchString(f) {
				errs["fields"] = fmt.Sprintf("invalid field %q", f)
				continue
			}
			q.Fields = append(q.Fields, f)
		}
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if reserved[key] {
			continue
		}
		m := keyPattern.FindStringSubmatch(key)
		if m == nil {
			errs[key] = "unsupported parameter"
			continue
		}
		field, op := m[1], Operator(m[2])
		if op == "" {
			op = OpEq
		}
		if !operators[op] {
			errs[key] = fmt.Sprintf("unsupported operator %q", op)
			continue
		}
		typ, ok := allowed[field]
		if !ok {
			errs[key] = "field is not filterable"
			continue
		}

		raw := values.Get(key)
		if op == OpIn {
			parts := strings.Split(raw, ",")
			list := make([]any, 0, len(parts))
			for _, p := range parts {
				val, err := convert(strings.TrimSpace(p), typ)
				if err != nil {
					errs[key] = err.Error()
					break
				}
				list = append(list, val)
			}
			if _, failed := errs[key]; !failed {
				q.Conditions = append(q.Conditions, Condition{Field: field, Op: op, Value: list})
			}
			continue
		}

		val, err := convert(raw, typ)
		if err != nil {
			errs[key] = err.Error()
			continue
		}
		q.Conditions = append(q.Conditions, Condition{Field: field, Op: op, Value: val})
	}

	if len(errs) > 0 {
		return ListQuery{}, errs
	}
	return q, nil
}

func convert(raw string, typ FieldType) (any, error) {
	switch typ {
	case Number:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", raw)
		}
		return f, nil
	case Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%q is not a boolean", raw)
		}
		return b, nil
	case Time:
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("%q is not an RFC3339 time", raw)
		}
		return t, nil
	default:
		return raw, nil
	}
}

// Project reduces each item to the requested fields (plus "id"). With no fields the
// items are returned unchanged.
func Project[T any](items []T, fields []string) (any, error) {
	if len(fields) == 0 {
		return items, nil
	}
	keep := map[string]bool{"id": true}
	for _, f := range fields {
		keep[strings.SplitN(f, ".", 2)[0]] = true
	}

	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			return nil, err
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		for k := range m {
			if !keep[k] {
				delete(m, k)
			}
		}
		out = append(out, m)
	}
	return out, nil
}

// Meta is the pagination block returned with every list response.
type Meta struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"total_pages"`
	HasMore    bool  `json:"has_more"`
}

func NewMeta(q ListQuery, total int64) Meta {
	var pages int64
	if q.Limit > 0 {
		pages = (total + int64(q.Limit) - 1) / int64(q.Limit)
	}
	return Meta{
		Page:       q.Page,
		Limit:      q.Limit,
		Total:      total,
		TotalPages: pages,
		HasMore:    total > int64(q.Page*q.Limit),
	}
}
