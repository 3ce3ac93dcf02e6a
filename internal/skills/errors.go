package skills

import "fmt"

// DuplicateIDError is returned by a strict registry when a definition id
// is registered twice.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("skill %q already registered", e.ID)
}
