//go:build !darwin

package delivery

func axInsert(string) error { return ErrUnsupported }
