package config

import (
	"strings"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
)

var validate = validator.New()

func Validate(config interface{}) error {
	return validate.Struct(config)
}

// LogValidationErrors logs one line per invalid field, named by its path below the root config struct.
func LogValidationErrors(err error) {
	if err == nil {
		return
	}
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		log.Errorf("ConfigError: %v", err)
		return
	}
	for _, fieldError := range validationErrors {
		log.Errorf("ConfigError: %s", describe(fieldError))
	}
}

func describe(fieldError validator.FieldError) string {
	field := fieldPath(fieldError.Namespace())
	switch fieldError.Tag() {
	case "required":
		return "field " + field + " is required but was not found"
	case "gt":
		return "field " + field + " must be greater than " + fieldError.Param()
	case "gtefield":
		return "field " + field + " must not be less than " + fieldError.Param()
	case "oneof":
		return "field " + field + " must be one of " + strings.ReplaceAll(fieldError.Param(), " ", ", ")
	}
	return "field " + field + " is invalid: " + fieldError.Tag()
}

func fieldPath(namespace string) string {
	if idx := strings.Index(namespace, "."); idx != -1 {
		return namespace[idx+1:]
	}
	return namespace
}
