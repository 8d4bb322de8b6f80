// Package validate wraps gopkg.in/go-playground/validator.v9 struct-tag
// validation, translating its field errors into the engine's single tagged
// error type rather than an HTTP-transport error shape; that belongs to an
// external collaborator and isn't this package's concern.
package validate

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	validator "gopkg.in/go-playground/validator.v9"

	"github.com/summa-ledger/summa/pkg/merrors"
)

var (
	once sync.Once
	v    *validator.Validate
)

func instance() *validator.Validate {
	once.Do(func() {
		v = validator.New()
		v.RegisterValidation("keymax", fieldMaxLen(100))
		v.RegisterValidation("valuemax", fieldMaxLen(2000))
		v.RegisterValidation("nonested", notNested)
	})

	return v
}

// fieldMaxLen builds a validator.v9 Func enforcing a max string length, used
// for the "keymax"/"valuemax" tags bounding metadata map keys and values.
func fieldMaxLen(max int) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= max
	}
}

// notNested rejects map/slice metadata values; metadata bags are flat
// key-value pairs.
func notNested(fl validator.FieldLevel) bool {
	switch fl.Field().Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return false
	case reflect.Interface:
		switch fl.Field().Interface().(type) {
		case map[string]any, []any:
			return false
		}
	}

	return true
}

// Struct validates s against its `validate` tags and returns an
// INVALID_ARGUMENT *merrors.Error listing every failing field, or nil.
func Struct(s any) error {
	err := instance().Struct(s)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return merrors.Wrap(merrors.InvalidArgument, "validation failed", err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on %q", fe.Field(), fe.Tag()))
	}

	return merrors.New(merrors.InvalidArgument, strings.Join(msgs, "; "))
}
