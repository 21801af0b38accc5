package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func TestSelectable(t *testing.T) {
	tests := []struct {
		name string
		line Line
		want bool
	}{
		{"pending and unpicked", Line{ToPickedPartialQty: 5}, true},
		{"pending with nil picked", Line{ToPickedPartialQty: 5, PickedPartialQty: nil}, true},
		{"pending with negative picked sentinel", Line{ToPickedPartialQty: 5, PickedPartialQty: ptr(-1)}, true},
		{"already picked", Line{ToPickedPartialQty: 5, PickedPartialQty: ptr(5)}, false},
		{"no pending quantity", Line{ToPickedPartialQty: 0}, false},
		{"negative pending quantity", Line{ToPickedPartialQty: -2}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.line.Selectable())
		})
	}
}

func TestKeyRoundTrip(t *testing.T) {
	k := Key{RowNum: 12, LineID: 3}
	assert.Equal(t, "12-3", k.String())

	parsed, err := ParseKey(k.String())
	require.NoError(t, err)
	assert.Equal(t, k, parsed)
}

func TestParseKeyRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "12", "a-b", "12-"} {
		if _, err := ParseKey(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestLineWireNames(t *testing.T) {
	raw := `{"RunNo":1001,"RowNum":4,"BatchNo":"B7","LineTyp":"RM","LineId":2,
		"ItemKey":"FLOUR01","Location":"A-01","Unit":"KG","StandardQty":25,
		"PackSize":5,"ToPickedPartialQty":3.5,"PickedPartialQty":null,
		"RecUserId":"mike","ModifiedBy":"anna"}`

	var line Line
	require.NoError(t, json.Unmarshal([]byte(raw), &line))
	assert.Equal(t, 1001, line.RunNo)
	assert.Equal(t, Key{RowNum: 4, LineID: 2}, line.Key())
	assert.Nil(t, line.PickedPartialQty)
	assert.True(t, line.Selectable())
}
