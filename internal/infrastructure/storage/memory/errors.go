package memory

import "fmt"

func errNoTx(op string) error {
	return fmt.Errorf("%s: no transaction in context", op)
}
