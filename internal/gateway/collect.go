package gateway

import (
    "bytes"
    "errors"
    "io"
    "net"
    "strconv"
    "strings"
)

var (
    errTooLarge       = errors.New("request exceeds size ceiling")
    errLengthRequired = errors.New("transfer-encoding not supported")
    errBadFraming     = errors.New("bad request framing")
    errClientGone     = errors.New("client closed before sending a request")
)

var headTerminator = []byte("\r\n\r\n")

// collector reads one request off a connection without ever holding more
// than max+1 bytes.
type collector struct {
    conn    net.Conn
    max     int64
    buf     []byte
    headEnd int
}

func newCollector(conn net.Conn, max int64) *collector {
    return &collector{conn: conn, max: max, headEnd: -1}
}

// fill does one read. Reads are sized so that crossing the ceiling is
// detected with at most one byte over it.
func (c *collector) fill() error {
    room := c.max + 1 - int64(len(c.buf))
    if room <= 0 { return errTooLarge }
    chunk := int64(4096)
    if room < chunk { chunk = room }
    tmp := make([]byte, chunk)
    n, err := c.conn.Read(tmp)
    c.buf = append(c.buf, tmp[:n]...)
    if int64(len(c.buf)) > c.max { return errTooLarge }
    if err != nil {
        if errors.Is(err, io.EOF) {
            if n > 0 { return nil }
            if len(c.buf) == 0 { return errClientGone }
            return errBadFraming
        }
        return err
    }
    return nil
}

// readHead reads until the blank line that ends the header block.
func (c *collector) readHead() error {
    for {
        if i := bytes.Index(c.buf, headTerminator); i >= 0 {
            c.headEnd = i + len(headTerminator)
            return nil
        }
        if err := c.fill(); err != nil { return err }
    }
}

// readBody reads the declared body. A declared length that cannot fit under
// the ceiling is refused before any body byte is read.
func (c *collector) readBody() ([]byte, error) {
    length, err := framing(c.buf[:c.headEnd])
    if err != nil { return nil, err }
    total := int64(c.headEnd) + length
    if total > c.max { return nil, errTooLarge }
    for int64(len(c.buf)) < total {
        if err := c.fill(); err != nil { return nil, err }
    }
    return c.buf[:total], nil
}

// framing returns the body length the header block declares.
func framing(head []byte) (int64, error) {
    var length int64 = -1
    lines := strings.Split(string(head), "\r\n")
    for _, line := range lines[1:] {
        name, value, ok := strings.Cut(line, ":")
        if !ok { continue }
        switch strings.ToLower(strings.TrimSpace(name)) {
        case "transfer-encoding":
            return 0, errLengthRequired
        case "content-length":
            n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
            if err != nil || n < 0 { return 0, errBadFraming }
            if length >= 0 && length != n { return 0, errBadFraming }
            length = n
        }
    }
    if length < 0 { length = 0 }
    return length, nil
}

// forwardedFor returns the first X-Forwarded-For entry in the header block.
func forwardedFor(head []byte) string {
    for _, line := range strings.Split(string(head), "\r\n") {
        name, value, ok := strings.Cut(line, ":")
        if !ok || !strings.EqualFold(strings.TrimSpace(name), "x-forwarded-for") { continue }
        first, _, _ := strings.Cut(value, ",")
        return strings.TrimSpace(first)
    }
    return ""
}
