// Package dispatch maps application message commands to payload decoders
// that produce inventory records.
package dispatch

import (
	"fmt"
	"log/slog"
	"strconv"

	"firestige.xyz/satchel/internal/frame"
	"firestige.xyz/satchel/internal/inventory"
	"firestige.xyz/satchel/internal/metrics"
)

// Supported command ids.
const (
	CmdPlayerStoreNotify      uint16 = 0x0100
	CmdStoreItemChangeNotify  uint16 = 0x0101
	CmdAvatarDataNotify       uint16 = 0x0200
	CmdAvatarInfoNotify       uint16 = 0x0201
	CmdReliquaryRerollNotify  uint16 = 0x0300
	CmdReliquaryUpgradeNotify uint16 = 0x0301
)

type decoderFunc func(payload []byte) ([]inventory.Record, error)

type command struct {
	name   string
	decode decoderFunc
}

// commands is closed: achievements and wish history are never decoded.
var commands = map[uint16]command{
	CmdPlayerStoreNotify:      {"PlayerStoreNotify", decodeItemList},
	CmdStoreItemChangeNotify:  {"StoreItemChangeNotify", decodeItemList},
	CmdAvatarDataNotify:       {"AvatarDataNotify", decodeAvatarList},
	CmdAvatarInfoNotify:       {"AvatarInfoNotify", decodeAvatarInfo},
	CmdReliquaryRerollNotify:  {"ReliquaryRerollNotify", decodeReroll},
	CmdReliquaryUpgradeNotify: {"ReliquaryUpgradeNotify", decodeUpgrade},
}

// Known reports whether cmd has a decoder.
func Known(cmd uint16) bool {
	_, ok := commands[cmd]
	return ok
}

// CommandName returns the message name for cmd, or its hex id when unknown.
func CommandName(cmd uint16) string {
	if c, ok := commands[cmd]; ok {
		return c.name
	}
	return "0x" + strconv.FormatUint(uint64(cmd), 16)
}

// DecodeError reports a malformed payload for a known command. The message
// is dropped; the session continues.
type DecodeError struct {
	Command uint16
	Seq     uint32
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("dispatch: decode %s seq %d: %v", CommandName(e.Command), e.Seq, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Stats counts dispatch outcomes.
type Stats struct {
	Decoded uint64
	Skipped uint64
	Failed  uint64
	Records uint64
}

// Dispatcher decodes messages of one direction. It is not safe for
// concurrent use.
type Dispatcher struct {
	stats Stats
}

// New creates a dispatcher.
func New() *Dispatcher {
	return &Dispatcher{}
}

// Dispatch decodes msg. Unknown commands yield no records and no error.
// A malformed payload yields a *DecodeError.
func (d *Dispatcher) Dispatch(msg frame.Message) ([]inventory.Record, error) {
	cmd, ok := commands[msg.Command]
	if !ok {
		d.stats.Skipped++
		metrics.MessagesTotal.WithLabelValues("unknown", "skipped").Inc()
		return nil, nil
	}

	metrics.MessageSizeBytes.Observe(float64(len(msg.Payload)))
	records, err := cmd.decode(msg.Payload)
	if err != nil {
		d.stats.Failed++
		metrics.MessagesTotal.WithLabelValues(cmd.name, "error").Inc()
		derr := &DecodeError{Command: msg.Command, Seq: msg.Seq, Err: err}
		slog.Debug("message dropped", "command", cmd.name, "seq", msg.Seq, "error", err)
		return nil, derr
	}

	d.stats.Decoded++
	d.stats.Records += uint64(len(records))
	metrics.MessagesTotal.WithLabelValues(cmd.name, "decoded").Inc()
	return records, nil
}

// Stats returns a copy of the counters.
func (d *Dispatcher) Stats() Stats {
	return d.stats
}
