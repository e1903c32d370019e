package patch

// Validator is a single check against a parsed PATCH Operation, in the
// same functional-composition style as the teacher's Validator for
// SS12000 objects: a plain function from the thing being checked to an
// error.
type Validator func(op Operation) error

// MultiValidator creates a single Validator from several. The
// validators are applied in slice order.
func MultiValidator(validators []Validator) Validator {
	return func(op Operation) error {
		for i := range validators {
			if err := validators[i](op); err != nil {
				return err
			}
		}
		return nil
	}
}

// ImmutablePathValidator rejects any operation whose path's top-level
// attribute is schemas, id, or meta. Apply() enforces the same rule as
// it mutates, but running this first over the whole batch means a PATCH
// that touches an immutable attribute in its third operation fails
// before the first two ever mutate the resource.
func ImmutablePathValidator() Validator {
	return func(op Operation) error {
		if op.Path == nil {
			return nil
		}
		if isImmutable(op.Path.Attr.Segments[0]) {
			return mutabilityError(op.Path.Attr.Segments[0])
		}
		if op.Path.Sub != "" && isImmutable(op.Path.Sub) {
			return mutabilityError(op.Path.Sub)
		}
		return nil
	}
}

// ValidateOperations runs validators over every operation in ops, in
// order, stopping at the first failure.
func ValidateOperations(ops []Operation, validators ...Validator) error {
	v := MultiValidator(validators)
	for _, op := range ops {
		if err := v(op); err != nil {
			return err
		}
	}
	return nil
}
