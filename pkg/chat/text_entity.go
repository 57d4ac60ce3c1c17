package chat

import (
	"fmt"
	"unicode/utf8"
)

// TextEntityType identifies a neutral rich text formatting class.
type TextEntityType string

const (
	// TextEntityTypeBold renders the range in bold.
	TextEntityTypeBold TextEntityType = "bold"
	// TextEntityTypeItalic renders the range in italics.
	TextEntityTypeItalic TextEntityType = "italic"
	// TextEntityTypeCode renders the range as inline code.
	TextEntityTypeCode TextEntityType = "code"
	// TextEntityTypeURL marks a plain URL range.
	TextEntityTypeURL TextEntityType = "url"
	// TextEntityTypeTextURL links the range to URL.
	TextEntityTypeTextURL TextEntityType = "text_url"
)

// TextEntity marks a rich text fragment.
//
// Offset and Length are counted in Unicode code points; drivers convert to
// platform units.
type TextEntity struct {
	// Type identifies the entity class.
	Type TextEntityType
	// Offset is the zero-based code point offset in the text.
	Offset int
	// Length is the code point span of the entity.
	Length int
	// URL is the link target for text_url entities.
	URL string
}

// ValidateTextEntities checks that every entity is typed and fits inside text.
func ValidateTextEntities(text string, entities []TextEntity) error {
	if len(entities) == 0 {
		return nil
	}

	textLength := utf8.RuneCountInString(text)
	for index, entity := range entities {
		if entity.Type == "" {
			return fmt.Errorf("entity[%d]: missing type", index)
		}
		if entity.Offset < 0 {
			return fmt.Errorf("entity[%d]: negative offset %d", index, entity.Offset)
		}
		if entity.Length <= 0 {
			return fmt.Errorf("entity[%d]: non-positive length %d", index, entity.Length)
		}
		if entity.Offset+entity.Length > textLength {
			return fmt.Errorf(
				"entity[%d]: range [%d,%d) exceeds text length %d",
				index,
				entity.Offset,
				entity.Offset+entity.Length,
				textLength,
			)
		}
		if entity.Type == TextEntityTypeTextURL && entity.URL == "" {
			return fmt.Errorf("entity[%d]: text_url requires url", index)
		}
	}

	return nil
}
