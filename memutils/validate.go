package memutils

// Validatable is anything that can check its own internal consistency, such as a heap walking
// its boundary tags and free lists. DebugValidate accepts any Validatable.
type Validatable interface {
	Validate() error
}
