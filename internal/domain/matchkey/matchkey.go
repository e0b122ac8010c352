// Package matchkey builds the canonical identity of a rated consumable.
//
// Two notes describe "the same thing" when their keys are equal. Free-text
// names are lower-cased and trimmed; inner whitespace is left alone.
package matchkey

import (
	"math"
	"strconv"
	"strings"

	"github.com/okian/palate/internal/domain/model"
)

// Extension field names read from a note's extension record.
const (
	FieldDishName   = "dish_name"
	FieldWineName   = "wine_name"
	FieldVintage    = "vintage"
	FieldSpiritName = "spirit_name"
	FieldDistillery = "distillery"
)

// NonVintage stands in for a wine without a vintage.
const NonVintage = "nv"

// Build returns the match key for an item of category c. ok is false when a
// required field is missing, not a string, or blank.
func Build(c model.Category, ext map[string]any, venueID string) (string, bool) {
	switch c {
	case model.CategoryRestaurant:
		venue := strings.TrimSpace(venueID)
		dish, ok := text(ext, FieldDishName)
		if venue == "" || !ok {
			return "", false
		}
		return "r:" + venue + ":" + dish, true
	case model.CategoryWine:
		name, ok := text(ext, FieldWineName)
		if !ok {
			return "", false
		}
		return "w:" + name + ":" + vintage(ext), true
	case model.CategorySpirit:
		name, ok := text(ext, FieldSpiritName)
		if !ok {
			return "", false
		}
		distillery, _ := text(ext, FieldDistillery)
		return "s:" + name + ":" + distillery, true
	}
	return "", false
}

// ForNote derives the key for a journal note, if its type has a category.
func ForNote(n model.Note) (model.Category, string, bool) {
	c, ok := model.CategoryForNoteType(n.Type)
	if !ok {
		return "", "", false
	}
	key, ok := Build(c, n.Extension, n.VenueID)
	return c, key, ok
}

func text(ext map[string]any, field string) (string, bool) {
	raw, ok := ext[field].(string)
	if !ok {
		return "", false
	}
	s := strings.ToLower(strings.TrimSpace(raw))
	return s, s != ""
}

func vintage(ext map[string]any) string {
	switch v := ext[FieldVintage].(type) {
	case string:
		if s := strings.ToLower(strings.TrimSpace(v)); s != "" {
			return s
		}
	case float64:
		if v == math.Trunc(v) && !math.IsInf(v, 0) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return NonVintage
}
