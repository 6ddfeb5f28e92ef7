package utils

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// BindRequest binds the request body, path and query params into T and validates it.
// A failed rule lists the offending request fields under the "fields" meta key.
func BindRequest[T any](c echo.Context) (T, error) {
	var v T

	if err := c.Bind(&v); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			if msg, ok := he.Message.(string); ok {
				return v, httperror.NewHTTPError(http.StatusBadRequest, msg)
			}
		}
		return v, httperror.WrapError(http.StatusBadRequest, err)
	}

	if err := validate.Struct(v); err != nil {
		return v, httperror.WrapError(http.StatusBadRequest, ValidationErrorToString(v, err)).
			AddMetaValue("fields", requestFields(reflect.TypeOf(v), err))
	}

	return v, nil
}

// requestFields names each failed field the way the client sent it.
func requestFields(t reflect.Type, err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, requestName(t, fe.StructField()))
	}
	return fields
}

// requestName prefers the query, then param, then json tag of a struct field.
func requestName(t reflect.Type, field string) string {
	if t.Kind() != reflect.Struct {
		return field
	}
	sf, ok := t.FieldByName(field)
	if !ok {
		return field
	}
	for _, key := range []string{"query", "param", "json"} {
		if name, _, _ := strings.Cut(sf.Tag.Get(key), ","); name != "" && name != "-" {
			return name
		}
	}
	return field
}
