// Package model holds the raw-material picking records exchanged with the
// backend and the composite identity used for selection bookkeeping.
package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Line is one row of a production run, as served from cust_PartialPicked.
// Field names match the backend wire format exactly.
type Line struct {
	RunNo              int      `json:"RunNo"`
	RowNum             int      `json:"RowNum"`
	BatchNo            string   `json:"BatchNo"`
	LineTyp            string   `json:"LineTyp"`
	LineID             int      `json:"LineId"`
	ItemKey            string   `json:"ItemKey"`
	Location           string   `json:"Location"`
	Unit               string   `json:"Unit"`
	StandardQty        float64  `json:"StandardQty"`
	PackSize           float64  `json:"PackSize"`
	ToPickedPartialQty float64  `json:"ToPickedPartialQty"`
	PickedPartialQty   *float64 `json:"PickedPartialQty"`
	RecUserID          string   `json:"RecUserId"`
	ModifiedBy         string   `json:"ModifiedBy"`
}

// Picked returns the actual partial quantity, treating a missing value as zero.
func (l Line) Picked() float64 {
	if l.PickedPartialQty == nil {
		return 0
	}
	return *l.PickedPartialQty
}

// Selectable reports whether the line may be removed: a pending target
// quantity with nothing picked yet.
func (l Line) Selectable() bool {
	return l.ToPickedPartialQty > 0 && l.Picked() <= 0
}

// Key returns the line's composite identity.
func (l Line) Key() Key {
	return Key{RowNum: l.RowNum, LineID: l.LineID}
}

// Key identifies a line within a run's result set. RowNum alone is not
// unique when several line types share a row number, so every selection
// and removal is keyed by the (RowNum, LineId) pair.
type Key struct {
	RowNum int `json:"rowNum"`
	LineID int `json:"lineId"`
}

// String renders the key in its canonical "<row>-<line>" form.
func (k Key) String() string {
	return fmt.Sprintf("%d-%d", k.RowNum, k.LineID)
}

// ParseKey parses the canonical "<row>-<line>" form back into a Key.
func ParseKey(s string) (Key, error) {
	row, line, ok := strings.Cut(s, "-")
	if !ok {
		return Key{}, fmt.Errorf("malformed row key %q", s)
	}
	rowNum, err := strconv.Atoi(row)
	if err != nil {
		return Key{}, fmt.Errorf("malformed row key %q: %w", s, err)
	}
	lineID, err := strconv.Atoi(line)
	if err != nil {
		return Key{}, fmt.Errorf("malformed row key %q: %w", s, err)
	}
	return Key{RowNum: rowNum, LineID: lineID}, nil
}

// User is the authenticated operator attached to every mutation for audit
// attribution.
type User struct {
	Username    string   `json:"username"`
	DisplayName string   `json:"display_name"`
	Email       string   `json:"email"`
	Department  string   `json:"department"`
	Roles       []string `json:"roles"`
}
