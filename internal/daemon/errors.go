package daemon

import "errors"

var (
	errNoPeers          = errors.New("daemon: no fleet peers configured for handoff")
	errAllPeersFailed   = errors.New("daemon: every candidate peer failed")
	errUnknownPeer      = errors.New("daemon: peer not found in fleet config")
	errPeerNotifyFailed = errors.New("daemon: peer returned an unsuccessful response")
)
