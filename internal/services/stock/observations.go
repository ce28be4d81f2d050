package stock

import (
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/ternarybob/stockcheck/internal/models"
)

// ParseObservations validates raw extractor output and converts it to
// observations. The output must be a JSON array whose every element is an
// object with a boolean isVariantMatch (or legacy isHolo) and a boolean
// isOutOfStock. Anything else is ErrExtractionFormat.
func ParseObservations(raw []byte) ([]models.Observation, error) {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: not valid JSON", ErrExtractionFormat)
	}

	result := gjson.ParseBytes(raw)
	if !result.IsArray() {
		return nil, fmt.Errorf("%w: expected array, got %s", ErrExtractionFormat, result.Type)
	}

	elements := result.Array()
	observations := make([]models.Observation, 0, len(elements))
	for i, element := range elements {
		if !element.IsObject() {
			return nil, fmt.Errorf("%w: element %d is not an object", ErrExtractionFormat, i)
		}

		variant := element.Get("isVariantMatch")
		if !variant.Exists() {
			variant = element.Get("isHolo")
		}
		if !isBool(variant) {
			return nil, fmt.Errorf("%w: element %d has no boolean isVariantMatch", ErrExtractionFormat, i)
		}

		outOfStock := element.Get("isOutOfStock")
		if !isBool(outOfStock) {
			return nil, fmt.Errorf("%w: element %d has no boolean isOutOfStock", ErrExtractionFormat, i)
		}

		observations = append(observations, models.Observation{
			IsVariantMatch: variant.Bool(),
			IsOutOfStock:   outOfStock.Bool(),
		})
	}

	return observations, nil
}

// Classify reports whether an item is available: some observation is in
// stock and, when variantOnly is set, is also a variant match.
func Classify(observations []models.Observation, variantOnly bool) bool {
	for _, o := range observations {
		if o.IsOutOfStock {
			continue
		}
		if variantOnly && !o.IsVariantMatch {
			continue
		}
		return true
	}
	return false
}

func isBool(r gjson.Result) bool {
	return r.Type == gjson.True || r.Type == gjson.False
}
