package ssh

import (
	"encoding/binary"
	"fmt"
	"sort"

	"golang.org/x/crypto/ssh"

	"github.com/acolita/promptshell/internal/chanconf"
	"github.com/acolita/promptshell/internal/ports"
)

// terminalModes are sent with every pty request.
var terminalModes = ssh.TerminalModes{
	ssh.ECHO:          1,
	ssh.TTY_OP_ISPEED: 14400,
	ssh.TTY_OP_OSPEED: 14400,
}

// ptyRequestMsg is the RFC 4254 section 6.2 payload. Session.RequestPty
// only fills the character dimensions, so the request is built here.
type ptyRequestMsg struct {
	Term     string
	Columns  uint32
	Rows     uint32
	Width    uint32
	Height   uint32
	Modelist string
}

func ptyRequest(req ports.TermRequest) ptyRequestMsg {
	msg := ptyRequestMsg{
		Term:     req.Term,
		Modelist: encodeModes(terminalModes),
	}
	if msg.Term == "" {
		msg.Term = string(chanconf.TermVanilla)
	}
	if req.Unit == string(chanconf.UnitPixels) {
		msg.Width = uint32(req.Width)
		msg.Height = uint32(req.Height)
	} else {
		msg.Columns = uint32(req.Width)
		msg.Rows = uint32(req.Height)
	}
	return msg
}

func encodeModes(modes ssh.TerminalModes) string {
	opcodes := make([]int, 0, len(modes))
	for op := range modes {
		opcodes = append(opcodes, int(op))
	}
	sort.Ints(opcodes)

	buf := make([]byte, 0, len(modes)*5+1)
	for _, op := range opcodes {
		buf = append(buf, byte(op))
		buf = binary.BigEndian.AppendUint32(buf, modes[uint8(op)])
	}
	buf = append(buf, 0) // TTY_OP_END
	return string(buf)
}

func requestPty(sess *ssh.Session, req ports.TermRequest) error {
	ok, err := sess.SendRequest("pty-req", true, ssh.Marshal(ptyRequest(req)))
	if err != nil {
		return fmt.Errorf("request pty: %w", err)
	}
	if !ok {
		return fmt.Errorf("request pty: rejected by server")
	}
	return nil
}
