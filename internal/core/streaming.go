package core

// streaming.go provides the readers the tabular migrator puts in front of
// encoding/csv. The station file is edited by hand on Windows machines often
// enough that a leading BOM and CRLF line endings are common:
//
//   - BOMSkippingReader: drops a leading UTF-8 BOM (0xEF 0xBB 0xBF)
//   - LineEndingSniffer: records whether the first line ends in CRLF
//
// Both pass every other byte through untouched and keep memory at
// O(buffer size). Encoding errors are left for the migrator to report.

import (
	"bufio"
	"bytes"
	"io"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// BOMSkippingReader wraps an io.Reader and skips the UTF-8 BOM if present.
type BOMSkippingReader struct {
	r       *bufio.Reader
	checked bool
}

// NewBOMSkippingReader creates a new BOM-skipping reader.
func NewBOMSkippingReader(r io.Reader) *BOMSkippingReader {
	return &BOMSkippingReader{r: bufio.NewReader(r)}
}

// Read implements io.Reader.
func (b *BOMSkippingReader) Read(p []byte) (int, error) {
	if !b.checked {
		b.checked = true
		head, err := b.r.Peek(len(utf8BOM))
		if err != nil && err != io.EOF {
			return 0, err
		}
		if bytes.Equal(head, utf8BOM) {
			if _, err := b.r.Discard(len(utf8BOM)); err != nil {
				return 0, err
			}
		}
	}
	return b.r.Read(p)
}

// LineEndingSniffer passes reads through and notes whether the first line
// terminator it sees is "\r\n".
type LineEndingSniffer struct {
	r    io.Reader
	last byte // final byte of the previous read
	seen bool
	crlf bool
}

// NewLineEndingSniffer creates a new line ending sniffer.
func NewLineEndingSniffer(r io.Reader) *LineEndingSniffer {
	return &LineEndingSniffer{r: r}
}

// Read implements io.Reader.
func (s *LineEndingSniffer) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if !s.seen && n > 0 {
		if i := bytes.IndexByte(p[:n], '\n'); i >= 0 {
			s.seen = true
			s.crlf = (i > 0 && p[i-1] == '\r') || (i == 0 && s.last == '\r')
		} else {
			s.last = p[n-1]
		}
	}
	return n, err
}

// CRLF reports whether the first line read so far ended in "\r\n". It is
// false until a newline has been seen.
func (s *LineEndingSniffer) CRLF() bool {
	return s.crlf
}

// newStationReader skips a BOM and sniffs the line ending of the first line.
func newStationReader(r io.Reader) *LineEndingSniffer {
	return NewLineEndingSniffer(NewBOMSkippingReader(r))
}
