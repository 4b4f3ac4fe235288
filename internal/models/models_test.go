package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONListKeepsStoredText(t *testing.T) {
	stored := `[{"size":"S","price":100},  {"size":"M","price":150}]`
	list := JSONList{Raw: stored, Valid: true}

	data, err := json.Marshal(list)
	require.NoError(t, err)

	var back JSONList
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, stored, back.Raw, "stored text must survive untouched, whitespace included")
	assert.True(t, back.Valid)
}

func TestJSONListNull(t *testing.T) {
	var list JSONList
	require.NoError(t, json.Unmarshal([]byte("null"), &list))
	assert.False(t, list.Valid)

	data, err := json.Marshal(list)
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))

	value, err := list.Value()
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestJSONListAcceptsLiteralArray(t *testing.T) {
	var list JSONList
	require.NoError(t, json.Unmarshal([]byte(`[ "/uploads/a.png", "/uploads/b.png" ]`), &list))
	assert.Equal(t, `["/uploads/a.png","/uploads/b.png"]`, list.Raw)
}

func TestJSONListRejectsObjects(t *testing.T) {
	var list JSONList
	assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &list))
	assert.Error(t, json.Unmarshal([]byte(`42`), &list))
}

func TestJSONListDecode(t *testing.T) {
	list, err := NewJSONList([]int{3, 7})
	require.NoError(t, err)
	assert.Equal(t, "[3,7]", list.Raw)

	var ids []int
	require.NoError(t, list.Decode(&ids))
	assert.Equal(t, []int{3, 7}, ids)

	items, err := JSONList{}.Items()
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = NewJSONList(map[string]int{"a": 1})
	assert.Error(t, err)
}

func TestJSONListScan(t *testing.T) {
	var list JSONList
	require.NoError(t, list.Scan([]byte(`["x"]`)))
	assert.Equal(t, JSONList{Raw: `["x"]`, Valid: true}, list)

	require.NoError(t, list.Scan(nil))
	assert.False(t, list.Valid)

	assert.Error(t, list.Scan(12))
}

func TestProductDefaultsFromJSON(t *testing.T) {
	var p Product
	require.NoError(t, json.Unmarshal([]byte(`{"id":4,"name":"Vase","price_options":"[]"}`), &p))
	assert.Equal(t, 1, p.PartsCount)
	assert.True(t, p.IsVisible)

	require.NoError(t, json.Unmarshal([]byte(`{"id":4,"name":"Vase","parts_count":3,"is_visible":false}`), &p))
	assert.Equal(t, 3, p.PartsCount)
	assert.False(t, p.IsVisible)
}

func TestSettingsDefaultsFromJSON(t *testing.T) {
	var s Settings
	require.NoError(t, json.Unmarshal([]byte(`{"id":1}`), &s))
	require.NotNil(t, s.PriceCoefficient)
	assert.Equal(t, DefaultPriceCoefficient, *s.PriceCoefficient)

	require.NoError(t, json.Unmarshal([]byte(`{"id":1,"price_coefficient":null}`), &s))
	assert.Nil(t, s.PriceCoefficient)
}

func TestApplyDefaults(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	u := User{Username: "maria"}
	u.ApplyDefaults(now)
	assert.Equal(t, RoleBuyer, u.Role)
	assert.Equal(t, now, u.RegistrationDate)

	o := Order{UserID: 2}
	o.ApplyDefaults(now)
	assert.Equal(t, DefaultOrderStatus, o.Status)
	assert.Equal(t, now, o.UpdatedDate)

	earlier := now.Add(-time.Hour)
	p := Product{CreatedDate: earlier}
	p.ApplyDefaults(now)
	assert.Equal(t, earlier, p.CreatedDate)
	assert.Equal(t, now, p.UpdatedDate)
}

func TestUserPublicHidesPassword(t *testing.T) {
	u := User{ID: 1, Username: "admin", Password: "$2a$10$hash", Role: RoleAdmin}

	data, err := json.Marshal(u.Public())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "password")
	assert.Contains(t, string(data), `"username":"admin"`)
}
