// File: callloop/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package callloop

import "fmt"

// EngineFault is a panic recovered inside the loop.
type EngineFault struct {
	Value any
	Stack []byte
}

func (f *EngineFault) Error() string {
	return fmt.Sprintf("callloop: engine fault: %v", f.Value)
}

// Unwrap returns the panic value when it is an error.
func (f *EngineFault) Unwrap() error {
	if err, ok := f.Value.(error); ok {
		return err
	}
	return nil
}
