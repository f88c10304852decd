// Package transport maintains one duplex TCP stream per peer rank and
// frames messages with a fixed little-endian header followed by an optional
// collective header and the payload. The transport delivers frames reliably
// and in order per connection; it does no matching.
/*
 * Copyright (c) 2024-2026, gompi authors. All rights reserved.
 */
package transport

import (
	"encoding/binary"
	"io"

	"github.com/gompi/gompi/cmn"
	"github.com/gompi/gompi/cmn/debug"
	"github.com/pkg/errors"
)

// Fixed header, 28 bytes little-endian:
//
//	command:u16 sender:u32 receiver:u32 comm:u32 tag:i32 ack:u8 chlen:u8 paylen:u64
const hdrSize = 28

const maxCollHdr = 255 // chlen is a u8

type (
	Header struct {
		Command     uint16
		Sender      uint32
		Receiver    uint32
		CommID      uint32
		Tag         int32
		AckRequired bool
	}

	// Frame is one wire message: header, opaque collective header (the
	// algorithm class chosen by the sender, when the frame belongs to a
	// collective), and payload.
	Frame struct {
		CollHdr []byte
		Payload []byte
		Hdr     Header
	}
)

func (h *Header) pack(buf []byte, chlen, paylen int) {
	debug.Assert(len(buf) >= hdrSize)
	binary.LittleEndian.PutUint16(buf[0:], h.Command)
	binary.LittleEndian.PutUint32(buf[2:], h.Sender)
	binary.LittleEndian.PutUint32(buf[6:], h.Receiver)
	binary.LittleEndian.PutUint32(buf[10:], h.CommID)
	binary.LittleEndian.PutUint32(buf[14:], uint32(h.Tag))
	buf[18] = 0
	if h.AckRequired {
		buf[18] = 1
	}
	buf[19] = byte(chlen)
	binary.LittleEndian.PutUint64(buf[20:], uint64(paylen))
}

func (h *Header) unpack(buf []byte) (chlen int, paylen uint64) {
	h.Command = binary.LittleEndian.Uint16(buf[0:])
	h.Sender = binary.LittleEndian.Uint32(buf[2:])
	h.Receiver = binary.LittleEndian.Uint32(buf[6:])
	h.CommID = binary.LittleEndian.Uint32(buf[10:])
	h.Tag = int32(binary.LittleEndian.Uint32(buf[14:]))
	h.AckRequired = buf[18] != 0
	return int(buf[19]), binary.LittleEndian.Uint64(buf[20:])
}

func writeFrame(w io.Writer, f *Frame) error {
	if len(f.CollHdr) > maxCollHdr {
		return errors.Errorf("collective header too long: %d", len(f.CollHdr))
	}
	var hdr [hdrSize]byte
	f.Hdr.pack(hdr[:], len(f.CollHdr), len(f.Payload))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(f.CollHdr) > 0 {
		if _, err := w.Write(f.CollHdr); err != nil {
			return err
		}
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return err
		}
	}
	return nil
}

func readFrame(r io.Reader) (*Frame, error) {
	var hdr [hdrSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	f := &Frame{}
	chlen, paylen := f.Hdr.unpack(hdr[:])
	if f.Hdr.Command == 0 || f.Hdr.Command > cmn.CmdHello {
		return nil, errors.Errorf("framing violation: command %d", f.Hdr.Command)
	}
	if chlen > 0 {
		f.CollHdr = make([]byte, chlen)
		if _, err := io.ReadFull(r, f.CollHdr); err != nil {
			return nil, err
		}
	}
	if paylen > 0 {
		f.Payload = make([]byte, paylen)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return nil, err
		}
	}
	return f, nil
}
