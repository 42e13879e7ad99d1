package training

import (
	"fmt"
	"unicode/utf8"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/academy/core"
)

var recapLenTag = "recaplen"

// InitValidators registers the training validators. minRecapLength is counted in characters.
func InitValidators(validate *validator.Validate, translator ut.Translator, minRecapLength int) {
	_ = validate.RegisterValidation(recapLenTag, func(fl validator.FieldLevel) bool {
		return utf8.RuneCountInString(fl.Field().String()) >= minRecapLength
	})
	core.RegisterCustomTranslation(validate, translator, recapLenTag,
		fmt.Sprintf("recap must contain at least %d characters", minRecapLength))
}
