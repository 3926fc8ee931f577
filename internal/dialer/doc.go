package dialer

// Package dialer opens the relay's outbound connection.
//
// Dialers implement a small interface (DialContext) so the remote endpoint can
// be reached either directly or through an upstream SOCKS5 proxy. Connect
// makes exactly one attempt and returns failures as classified neterr errors.
