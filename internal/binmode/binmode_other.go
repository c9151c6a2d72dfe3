//go:build !windows

package binmode

func enable() error {
	return nil
}
