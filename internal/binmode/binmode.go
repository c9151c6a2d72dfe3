// Package binmode switches the process's stdout into binary mode on
// platforms where the console otherwise translates line endings (spec
// §4.G, §9). Object payloads written to stdout as part of the remote-
// helper protocol must pass through untouched; CRLF translation would
// silently corrupt them.
package binmode

// Enable puts stdout into binary mode on platforms that need it. It is
// a no-op everywhere text-mode translation doesn't happen; see
// binmode_windows.go for the platform that does.
func Enable() error {
	return enable()
}
