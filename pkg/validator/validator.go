// Package validator registers custom binding rules with gin's validator
// engine.
package validator

import (
	"time"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// RegisterClockRules installs the "clock" (HH:MM, 24h) and "civildate"
// (YYYY-MM-DD) rules used by shift and schedule requests.
func RegisterClockRules() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}

	if err := v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		_, err := time.Parse("15:04", fl.Field().String())
		return err == nil
	}); err != nil {
		return err
	}

	return v.RegisterValidation("civildate", func(fl validator.FieldLevel) bool {
		_, err := time.Parse("2006-01-02", fl.Field().String())
		return err == nil
	})
}
