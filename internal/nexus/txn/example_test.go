package txn_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/itou-labs/nexus-sync/internal/nexus/txn"
)

// Hooks registered inside Run fire after the unit of work returns nil.
func ExampleRun() {
	err := txn.Run(context.Background(), func(tc txn.Context) error {
		tc.OnCommit(func(context.Context) error {
			fmt.Println("pushed user 1")
			return nil
		})
		fmt.Println("saved user 1")
		return nil
	})
	fmt.Println("err:", err)
	// Output:
	// saved user 1
	// pushed user 1
	// err: <nil>
}

// A failing unit of work discards its hooks.
func ExampleRun_rollback() {
	err := txn.Run(context.Background(), func(tc txn.Context) error {
		tc.OnCommit(func(context.Context) error {
			fmt.Println("never printed")
			return nil
		})
		return errors.New("constraint failed")
	})
	fmt.Println("err:", err)
	// Output:
	// err: constraint failed
}
