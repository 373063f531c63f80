package Controllers

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/gofiber/fiber/v2"
)

// Validator checks request bodies and reports failures per json field in
// plain English.
type Validator struct {
	validate *validator.Validate
	trans    ut.Translator
}

func NewValidator() *Validator {
	english := en.New()
	uni := ut.New(english, english)
	trans, _ := uni.GetTranslator("en")

	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = en_translations.RegisterDefaultTranslations(validate, trans)

	return &Validator{validate: validate, trans: trans}
}

// Check returns nil when s is valid, otherwise field name to message.
func (v *Validator) Check(s interface{}) map[string]string {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return map[string]string{"body": err.Error()}
	}
	out := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		out[fe.Field()] = fe.Translate(v.trans)
	}
	return out
}

// parseBody decodes and validates the request body. It writes the 400
// response itself and reports false when the handler should stop.
func parseBody(c *fiber.Ctx, v *Validator, out interface{}) (bool, error) {
	if err := c.BodyParser(out); err != nil {
		return false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if fields := v.Check(out); fields != nil {
		return false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":  "Validation failed",
			"fields": fields,
		})
	}
	return true, nil
}
