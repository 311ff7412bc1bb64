// Package linker drives one whatsmeow client per HTTP request through a device-linking
// attempt. An attempt issues a pairing code or QR image exactly once, waits for the phone to
// finish linking, forwards the exported credentials to the account's own chat and removes its
// temp directory whatever the outcome.
package linker
