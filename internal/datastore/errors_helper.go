package datastore

import (
	"fmt"

	"github.com/tphakala/eqroute/internal/errors"
)

// dbError builds a database error with key/value context pairs.
func dbError(err error, operation string, context ...any) error {
	builder := errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation)

	for i := 0; i < len(context)-1; i += 2 {
		if key, ok := context[i].(string); ok {
			builder = builder.Context(key, context[i+1])
		}
	}
	return builder.Build()
}

func validationError(message, field string, value any) error {
	return errors.Newf("%s", message).
		Component("datastore").
		Category(errors.CategoryValidation).
		Context("field", field).
		Context("value", fmt.Sprintf("%v", value)).
		Build()
}

func notFoundError(what, key string) error {
	return errors.Newf("%s not found: %s", what, key).
		Component("datastore").
		Category(errors.CategoryNotFound).
		Build()
}
