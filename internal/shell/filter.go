package shell

// ByteFilter is a stage applied to every byte read from a stream before it
// reaches the buffer and the prompt matcher.
type ByteFilter interface {
	// Filter returns the byte to keep, or false to drop it.
	Filter(b byte) (byte, bool)
	// Reset clears any state carried between bytes.
	Reset()
}

// Telnet control bytes.
const (
	telnetIAC  = 255
	telnetDONT = 254
	telnetDO   = 253
	telnetWONT = 252
	telnetWILL = 251
	asciiESC   = 27
)

// TelnetFilter drops telnet negotiation bytes. IAC is dropped on its own;
// WILL, WONT, DO, DONT and ESC are dropped together with the option byte
// that follows them.
type TelnetFilter struct {
	skipNext bool
}

func NewTelnetFilter() *TelnetFilter {
	return &TelnetFilter{}
}

func (f *TelnetFilter) Filter(b byte) (byte, bool) {
	if f.skipNext {
		f.skipNext = false
		return 0, false
	}
	switch b {
	case telnetIAC:
		return 0, false
	case telnetWILL, telnetWONT, telnetDO, telnetDONT, asciiESC:
		f.skipNext = true
		return 0, false
	}
	return b, true
}

func (f *TelnetFilter) Reset() {
	f.skipNext = false
}
