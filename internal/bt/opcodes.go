package bt

import "github.com/jrydberg/friendly/internal/wire"

// Opcodes for the BT exchange protocol, carried as application
// messages (opcode >= 0x80) on an overlay virtual path (spec.md
// §4.8).
const (
	HELLO          wire.Opcode = 0x80 + 0
	CHOKE          wire.Opcode = 0x80 + 1
	UNCHOKE        wire.Opcode = 0x80 + 2
	INTERESTED     wire.Opcode = 0x80 + 3
	NOT_INTERESTED wire.Opcode = 0x80 + 4
	HAVE           wire.Opcode = 0x80 + 5
	HAVE_NONE      wire.Opcode = 0x80 + 6
	HAVE_ALL       wire.Opcode = 0x80 + 7
	HAVE_SOME      wire.Opcode = 0x80 + 8
	REQUEST        wire.Opcode = 0x80 + 9
	REJECT         wire.Opcode = 0x80 + 10
	CANCEL         wire.Opcode = 0x80 + 11
	CHUNK          wire.Opcode = 0x80 + 12
)

var opcodeNames = map[wire.Opcode]string{
	HELLO:          "HELLO",
	CHOKE:          "CHOKE",
	UNCHOKE:        "UNCHOKE",
	INTERESTED:     "INTERESTED",
	NOT_INTERESTED: "NOT_INTERESTED",
	HAVE:           "HAVE",
	HAVE_NONE:      "HAVE_NONE",
	HAVE_ALL:       "HAVE_ALL",
	HAVE_SOME:      "HAVE_SOME",
	REQUEST:        "REQUEST",
	REJECT:         "REJECT",
	CANCEL:         "CANCEL",
	CHUNK:          "CHUNK",
}
