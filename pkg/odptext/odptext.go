// Package odptext converts flow keys, masks and action lists between
// their attribute-encoded wire form and the text form used by
// diagnostics and test fixtures. The grammar mirrors the attribute set
// of the binary codec: every field group the wire form can carry has a
// spelling here, and parse then format reproduces the input.
package odptext

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/veesix-networks/odp/pkg/logger"
)

var log = logger.Get(logger.ComponentText)

// PortMap translates between datapath port numbers and symbolic names.
// A nil map is valid and simply disables name lookup.
type PortMap struct {
	byName map[string]uint32
	byPort map[uint32]string
}

func NewPortMap() *PortMap {
	return &PortMap{
		byName: make(map[string]uint32),
		byPort: make(map[uint32]string),
	}
}

func (m *PortMap) Add(name string, port uint32) {
	m.byName[name] = port
	m.byPort[port] = name
}

func (m *PortMap) Name(port uint32) (string, bool) {
	if m == nil {
		return "", false
	}
	name, ok := m.byPort[port]
	return name, ok
}

func (m *PortMap) Port(name string) (uint32, bool) {
	if m == nil {
		return 0, false
	}
	port, ok := m.byName[name]
	return port, ok
}

// ParseError reports where in the input text parsing stopped. Nothing
// is appended to the output builders when parsing fails.
type ParseError struct {
	Offset int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at byte %d: %s", e.Offset, e.Msg)
}

// scanner walks the input text. All parse functions leave the offset
// on the first byte they could not consume so errors point at it.
type scanner struct {
	s   string
	off int
}

func (sc *scanner) errf(format string, args ...any) *ParseError {
	return &ParseError{Offset: sc.off, Msg: fmt.Sprintf(format, args...)}
}

func (sc *scanner) eof() bool { return sc.off >= len(sc.s) }

func (sc *scanner) peek() byte {
	if sc.eof() {
		return 0
	}
	return sc.s[sc.off]
}

// eat consumes c when it is next and reports whether it did.
func (sc *scanner) eat(c byte) bool {
	if !sc.eof() && sc.s[sc.off] == c {
		sc.off++
		return true
	}
	return false
}

func (sc *scanner) expect(c byte) error {
	if !sc.eat(c) {
		return sc.errf("expected %q", string(c))
	}
	return nil
}

// ident consumes a run of letters, digits and underscores.
func (sc *scanner) ident() string {
	start := sc.off
	for !sc.eof() {
		c := sc.s[sc.off]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' ||
			c >= '0' && c <= '9' || c == '_' || c == '.' || c == '-' {
			sc.off++
			continue
		}
		break
	}
	return sc.s[start:sc.off]
}

// u64 parses a decimal or 0x-prefixed integer no wider than bits.
func (sc *scanner) u64(bits int) (uint64, error) {
	start := sc.off
	if strings.HasPrefix(sc.s[sc.off:], "0x") || strings.HasPrefix(sc.s[sc.off:], "0X") {
		sc.off += 2
		for !sc.eof() && isHex(sc.s[sc.off]) {
			sc.off++
		}
	} else {
		for !sc.eof() && sc.s[sc.off] >= '0' && sc.s[sc.off] <= '9' {
			sc.off++
		}
	}
	if sc.off == start {
		return 0, sc.errf("expected a number")
	}
	v, err := strconv.ParseUint(sc.s[start:sc.off], 0, bits)
	if err != nil {
		sc.off = start
		return 0, sc.errf("bad number %q", sc.s[start:sc.off])
	}
	return v, nil
}

func (sc *scanner) u32() (uint32, error) {
	v, err := sc.u64(32)
	return uint32(v), err
}

func (sc *scanner) u16() (uint16, error) {
	v, err := sc.u64(16)
	return uint16(v), err
}

func (sc *scanner) u8() (uint8, error) {
	v, err := sc.u64(8)
	return uint8(v), err
}

// ip4 parses a dotted-quad IPv4 address.
func (sc *scanner) ip4() ([4]byte, error) {
	start := sc.off
	for !sc.eof() {
		c := sc.s[sc.off]
		if c >= '0' && c <= '9' || c == '.' {
			sc.off++
			continue
		}
		break
	}
	ip := net.ParseIP(sc.s[start:sc.off])
	if ip == nil || ip.To4() == nil {
		sc.off = start
		return [4]byte{}, sc.errf("bad IPv4 address")
	}
	var v [4]byte
	copy(v[:], ip.To4())
	return v, nil
}

// ip6 parses a colon-form IPv6 address.
func (sc *scanner) ip6() ([16]byte, error) {
	start := sc.off
	for !sc.eof() {
		c := sc.s[sc.off]
		if isHex(c) || c == ':' || c == '.' {
			sc.off++
			continue
		}
		break
	}
	ip := net.ParseIP(sc.s[start:sc.off])
	if ip == nil || ip.To16() == nil || strings.IndexByte(sc.s[start:sc.off], ':') < 0 {
		sc.off = start
		return [16]byte{}, sc.errf("bad IPv6 address")
	}
	var v [16]byte
	copy(v[:], ip.To16())
	return v, nil
}

// mac parses a colon-separated Ethernet address.
func (sc *scanner) mac() ([6]byte, error) {
	start := sc.off
	for !sc.eof() {
		c := sc.s[sc.off]
		if isHex(c) || c == ':' {
			sc.off++
			continue
		}
		break
	}
	hw, err := net.ParseMAC(sc.s[start:sc.off])
	if err != nil || len(hw) != 6 {
		sc.off = start
		return [6]byte{}, sc.errf("bad Ethernet address")
	}
	var v [6]byte
	copy(v[:], hw)
	return v, nil
}

// hexBytes parses a 0x-prefixed hex string of whole bytes.
func (sc *scanner) hexBytes() ([]byte, error) {
	if !strings.HasPrefix(sc.s[sc.off:], "0x") {
		return nil, sc.errf("expected 0x-prefixed bytes")
	}
	sc.off += 2
	start := sc.off
	for !sc.eof() && isHex(sc.s[sc.off]) {
		sc.off++
	}
	digits := sc.s[start:sc.off]
	if len(digits) == 0 || len(digits)%2 != 0 {
		sc.off = start
		return nil, sc.errf("hex bytes need an even digit count")
	}
	v := make([]byte, len(digits)/2)
	for i := range v {
		hi, _ := strconv.ParseUint(digits[2*i:2*i+2], 16, 8)
		v[i] = byte(hi)
	}
	return v, nil
}

func isHex(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}

func macString(v []byte) string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		v[0], v[1], v[2], v[3], v[4], v[5])
}

func ip4String(v []byte) string {
	return net.IP(v[:4]).String()
}

func ip6String(v []byte) string {
	return net.IP(v[:16]).String()
}
