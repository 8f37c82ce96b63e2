package bambu

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"time"
)

const (
	cameraPort       = 6000
	cameraUsername   = "bblp"
	cameraReadChunk  = 4096
	cameraDialTimeout = 5 * time.Second
)

var (
	jpegStartMarker = []byte{0xff, 0xd8, 0xff, 0xe0}
	jpegEndMarker   = []byte{0xff, 0xd9}
)

// hasCamera reports whether this printer model exposes the local JPEG
// snapshot stream at all. Every Bambu Lab printer covered by §4.1 does,
// so this always returns true for a host that resolves; callers should
// treat a Snapshot error as the authoritative "no camera" signal instead
// of branching on HasCamera for correctness.
func hasCamera(host string) bool {
	return host != ""
}

// snapshot opens a short-lived TLS connection to the printer's camera
// port, sends the vendor auth packet, and reads until one full JPEG
// frame has been captured. This reimplements the wire protocol used by
// torbenconto/bambulabs_api's internal camera client (unreachable
// directly: Go forbids importing another module's internal package),
// rather than a stream client, since §4.1 only asks for single snapshots.
func snapshot(ctx context.Context, host, accessCode string) ([]byte, error) {
	dialer := tls.Dialer{Config: &tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS12}}
	dctx, cancel := context.WithTimeout(ctx, cameraDialTimeout)
	defer cancel()

	rawConn, err := dialer.DialContext(dctx, "tcp", fmt.Sprintf("%s:%d", host, cameraPort))
	if err != nil {
		return nil, fmt.Errorf("bambu camera: dial: %w", err)
	}
	conn := rawConn.(*tls.Conn)
	defer conn.Close()

	if _, err := conn.Write(authPacket(cameraUsername, accessCode)); err != nil {
		return nil, fmt.Errorf("bambu camera: sending auth packet: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	} else {
		conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	}

	var buf []byte
	chunk := make([]byte, cameraReadChunk)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if img, ok := findJPEG(buf, jpegStartMarker, jpegEndMarker); ok {
				return img, nil
			}
		}
		if err != nil {
			return nil, fmt.Errorf("bambu camera: reading frame: %w", err)
		}
	}
}

// authPacket builds the fixed-layout auth packet the camera stream
// expects: a 16-byte header followed by a 32-byte, NUL-padded username
// and a 32-byte, NUL-padded access code.
func authPacket(username, accessCode string) []byte {
	buf := make([]byte, 0, 80)
	header := make([]byte, 4)
	binary.LittleEndian.PutUint32(header, 0x40)
	buf = append(buf, header...)
	header2 := make([]byte, 4)
	binary.LittleEndian.PutUint32(header2, 0x3000)
	buf = append(buf, header2...)
	buf = append(buf, make([]byte, 8)...)

	buf = append(buf, padded(username, 32)...)
	buf = append(buf, padded(accessCode, 32)...)
	return buf
}

func padded(s string, n int) []byte {
	b := make([]byte, n)
	copy(b, s)
	return b
}

// findJPEG reports whether buf contains one complete JPEG frame bounded
// by start and end markers.
func findJPEG(buf, start, end []byte) ([]byte, bool) {
	s := indexOf(buf, start, 0)
	if s == -1 {
		return nil, false
	}
	e := indexOf(buf, end, s+len(start))
	if e == -1 {
		return nil, false
	}
	return buf[s : e+len(end)], true
}

func indexOf(buf, sub []byte, from int) int {
	if len(sub) == 0 || from < 0 {
		return -1
	}
	for i := from; i+len(sub) <= len(buf); i++ {
		match := true
		for j := range sub {
			if buf[i+j] != sub[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
