//go:build !linux && !darwin

package ssdp

import "net"

func setReuseAddr(conn net.PacketConn) error { return nil }
