package net

import (
	"fmt"
	"log/slog"
	"net"
)

// OutgoingIP finds the preferred local IP address to put in share links.
func OutgoingIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		// No route out; fall back to the first non-loopback interface.
		return localIPFallback()
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}

func localIPFallback() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, address := range addrs {
		if ipnet, ok := address.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			return ipnet.IP.String()
		}
	}
	slog.Warn("no suitable local IP found, share link uses loopback")
	return "127.0.0.1"
}

// ShareURL turns a listen address into the websocket URL participants dial.
// An empty or unspecified host is replaced with OutgoingIP.
func ShareURL(listenAddr string) (string, error) {
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return "", fmt.Errorf("listen address %q: %w", listenAddr, err)
	}
	if host == "" || net.ParseIP(host).IsUnspecified() {
		host = OutgoingIP()
	}
	return fmt.Sprintf("ws://%s/ws", net.JoinHostPort(host, port)), nil
}

// Port returns the numeric port of a listen address.
func Port(listenAddr string) (int, error) {
	_, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return 0, err
	}
	return net.LookupPort("tcp", port)
}
