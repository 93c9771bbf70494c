//go:build !unix

package admin

import (
	"context"
	"errors"
)

// Run reports that named pipes are unavailable on this platform
func (f *Fifo) Run(ctx context.Context) error {
	return errors.New("admin fifo is not supported on this platform")
}
