package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/shopspring/decimal"

	"moneyrag.io/backend/internal/apperr"
)

const maxJSONBytes = 1 << 20

type validatorSvc struct {
	validator  *validator.Validate
	translator ut.Translator
}

var (
	vOnce sync.Once
	vSvc  *validatorSvc
)

// validate returns the validator singleton with english messages and json tag names
func validate() *validatorSvc {
	vOnce.Do(func() {
		enLoc := en.New()
		uni := ut.New(enLoc, enLoc)
		trans, _ := uni.GetTranslator("en")

		v := validator.New(validator.WithRequiredStructEnabled())

		// prefer json tag names in messages
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("json")
			if tag == "-" || tag == "" {
				return fld.Name
			}
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			return tag
		})
		_ = en_translations.RegisterDefaultTranslations(v, trans)

		_ = v.RegisterValidation("positive_decimal", func(fl validator.FieldLevel) bool {
			d, ok := fl.Field().Interface().(decimal.Decimal)
			return ok && d.IsPositive()
		})
		_ = v.RegisterTranslation("positive_decimal", trans,
			func(ut ut.Translator) error {
				return ut.Add("positive_decimal", "{0} must be greater than 0", true)
			},
			func(ut ut.Translator, fe validator.FieldError) string {
				msg, _ := ut.T("positive_decimal", fe.Field())
				return msg
			},
		)

		vSvc = &validatorSvc{validator: v, translator: trans}
	})
	return vSvc
}

// parseJSON decodes the request body into T and validates it
func parseJSON[T any](r *http.Request) (T, error) {
	var zero T
	defer r.Body.Close()

	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes))
	dec.DisallowUnknownFields()

	var dst T
	if err := dec.Decode(&dst); err != nil {
		if errors.Is(err, io.EOF) {
			return zero, apperr.New(apperr.KindValidation, "empty body")
		}
		return zero, apperr.Wrap(err, apperr.KindValidation, "invalid JSON")
	}
	if dec.More() {
		return zero, apperr.New(apperr.KindValidation, "unexpected trailing data")
	}

	if err := validate().validator.Struct(dst); err != nil {
		return zero, apperr.New(apperr.KindValidation, validationMessage(err))
	}
	return dst, nil
}

// validationMessage returns the translated message of the first failing field
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			return fe.Translate(validate().translator)
		}
	}
	return err.Error()
}
