package controllers

import (
	"regexp"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var (
	gatewayIDPattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,64}$`)
	courseIDPattern  = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	registerOnce     sync.Once
)

// RegisterValidators adds the gatewayid and courseid binding tags to gin's
// validator. Safe to call more than once.
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("gatewayid", func(fl validator.FieldLevel) bool {
			return gatewayIDPattern.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("courseid", func(fl validator.FieldLevel) bool {
			return courseIDPattern.MatchString(fl.Field().String())
		})
	})
}
