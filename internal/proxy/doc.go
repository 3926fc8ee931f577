package proxy

// Package proxy implements the single-session relay core.
//
// It contains the listener side (bind, accept exactly one client, stop
// listening) and the duplex relay that forwards raw chunks between the
// accepted connection and the outbound one, optionally hex-dumping each
// chunk.
