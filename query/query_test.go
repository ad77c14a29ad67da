package query

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var productFields = map[string]FieldType{
	"name":               String,
	"price":              Number,
	"availability_count": Number,
	"category_ids":       String,
	"created_at":         Time,
	"active":             Bool,
}

func TestParse_OperatorsSortFieldsAndPaging(t *testing.T) {
	v := url.Values{}
	v.Set("price[gte]", "10")
	v.Set("price[lte]", "99.5")
	v.Set("category_ids[in]", "c1, c2")
	v.Set("name", "Lamp")
	v.Set("sort", "-price,name")
	v.Set("fields", "name,price")
	v.Set("page", "3")
	v.Set("limit", "500")

	q, err := Parse(v, productFields)
	require.NoError(t, err)

	assert.Equal(t, 3, q.Page)
	assert.Equal(t, MaxLimit, q.Limit)
	assert.Equal(t, int64(200), q.Skip())
	assert.Equal(t, []SortField{{Field: "price", Desc: true}, {Field: "name"}}, q.Sort)
	assert.Equal(t, []string{"name", "price"}, q.Fields)

	assert.ElementsMatch(t, []Condition{
		{Field: "category_ids", Op: OpIn, Value: []any{"c1", "c2"}},
		{Field: "name", Op: OpEq, Value: "Lamp"},
		{Field: "price", Op: OpGte, Value: 10.0},
		{Field: "price", Op: OpLte, Value: 99.5},
	}, q.Conditions)
}

func TestParse_Defaults(t *testing.T) {
	q, err := Parse(url.Values{}, productFields)
	require.NoError(t, err)
	assert.Equal(t, DefaultPage, q.Page)
	assert.Equal(t, DefaultLimit, q.Limit)
	assert.Empty(t, q.Conditions)
}

func TestParse_TypedValues(t *testing.T) {
	v := url.Values{}
	v.Set("active", "true")
	v.Set("created_at[gt]", "2024-01-02T03:04:05Z")

	q, err := Parse(v, productFields)
	require.NoError(t, err)
	require.Len(t, q.Conditions, 2)
	assert.Equal(t, Condition{Field: "active", Op: OpEq, Value: true}, q.Conditions[0])
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), q.Conditions[1].Value)
}

func TestParse_Rejections(t *testing.T) {
	v := url.Values{}
	v.Set("secret_field", "x")
	v.Set("price[regex]", "1")
	v.Set("availability_count[gte]", "lots")
	v.Set("sort", "password")
	v.Set("page", "0")

	_, err := Parse(v, productFields)
	require.Error(t, err)

	fieldErrs, ok := err.(FieldErrors)
	require.True(t, ok)
	assert.Contains(t, fieldErrs, "secret_field")
	assert.Contains(t, fieldErrs, "price[regex]")
	assert.Contains(t, fieldErrs, "availability_count[gte]")
	assert.Contains(t, fieldErrs, "sort")
	assert.Contains(t, fieldErrs, "page")
}

func TestProject(t *testing.T) {
	type item struct {
		ID    string  `json:"id"`
		Name  string  `json:"name"`
		Price float64 `json:"price"`
	}
	items := []item{{ID: "1", Name: "Lamp", Price: 10}}

	out, err := Project(items, []string{"name"})
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"id": "1", "name": "Lamp"}}, out)

	same, err := Project(items, nil)
	require.NoError(t, err)
	assert.Equal(t, items, same)
}

func TestNewMeta(t *testing.T) {
	m := NewMeta(ListQuery{Page: 2, Limit: 10}, 25)
	assert.Equal(t, Meta{Page: 2, Limit: 10, Total: 25, TotalPages: 3, HasMore: true}, m)

	m = NewMeta(ListQuery{Page: 3, Limit: 10}, 25)
	assert.False(t, m.HasMore)
}
