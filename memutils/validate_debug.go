//go:build debug_geopool

package memutils

// DebugEnabled reports whether this binary was built with the debug_geopool build tag
const DebugEnabled = true

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the debug_geopool build tag is present
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}

// DebugAssert panics with err if err is non-nil. This method no-ops unless the debug_geopool
// build tag is present; production builds surface the same error to the caller instead.
func DebugAssert(err error) {
	if err != nil {
		panic(err)
	}
}
