package server

import (
	"bufio"
	"bytes"
	"net"
)

type protocolType int

const (
	protocolTCP protocolType = iota
	protocolHTTP
)

// httpMethods are the request line prefixes treated as HTTP. Read as a
// length prefix any of them declares a frame of more than 1 GiB, so they
// never collide with a raw client under a sane max frame size.
var httpMethods = [][]byte{
	[]byte("GET "),
	[]byte("POST"),
	[]byte("PUT "),
	[]byte("HEAD"),
	[]byte("OPTI"),
	[]byte("PATC"),
	[]byte("DELE"),
	[]byte("CONN"),
}

// detectProtocol peeks at the first bytes to determine protocol type. The
// returned reader still holds the peeked bytes.
func detectProtocol(conn net.Conn) (protocolType, *bufio.Reader, error) {
	reader := bufio.NewReader(conn)

	peek, err := reader.Peek(4)
	if err != nil {
		return protocolTCP, reader, err
	}

	for _, method := range httpMethods {
		if bytes.Equal(peek, method) {
			return protocolHTTP, reader, nil
		}
	}
	return protocolTCP, reader, nil
}
