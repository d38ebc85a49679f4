package lncfg

import "errors"

// Validator is an option group that can check its own values.
type Validator interface {
	// Validate returns an error describing every invalid value.
	Validate() error
}

// Validate checks every option group and joins their errors, so the operator
// sees all invalid options at once.
func Validate(validators ...Validator) error {
	var errs []error
	for _, validator := range validators {
		if err := validator.Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
