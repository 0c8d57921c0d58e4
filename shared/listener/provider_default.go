//go:build !darwin

package listener

func platformProvider() Provider {
	return nil
}
