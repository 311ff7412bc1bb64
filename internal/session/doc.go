// Package session owns the on-disk side of a linking attempt: the temp workspace, the
// creds.json export of the device store and the prefixed base64 session string.
package session
