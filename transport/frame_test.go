// Package transport maintains one duplex TCP stream per peer rank.
/*
 * Copyright (c) 2024-2026, gompi authors. All rights reserved.
 */
package transport

import (
	"bytes"
	"testing"

	"github.com/gompi/gompi/cmn"
	"github.com/gompi/gompi/tools/tassert"
)

func TestFrameRoundTrip(t *testing.T) {
	for _, f := range []*Frame{
		{
			Hdr: Header{
				Command:     cmn.CmdIntf,
				Sender:      3,
				Receiver:    7,
				CommID:      0,
				Tag:         42,
				AckRequired: true,
			},
			Payload: []byte("some payload"),
		},
		{
			Hdr:     Header{Command: cmn.CmdBytes, Sender: 0, Receiver: 1, CommID: 5, Tag: -10},
			CollHdr: []byte{0x91, 0x01},
			Payload: bytes.Repeat([]byte{0xab}, 4096),
		},
		{
			Hdr: Header{Command: cmn.CmdShutdown, Sender: 2, Receiver: 0, Tag: -1},
		},
	} {
		var buf bytes.Buffer
		tassert.CheckFatal(t, writeFrame(&buf, f))
		out, err := readFrame(&buf)
		tassert.CheckFatal(t, err)
		tassert.Errorf(t, out.Hdr == f.Hdr, "header %+v != %+v", out.Hdr, f.Hdr)
		tassert.Errorf(t, bytes.Equal(out.CollHdr, f.CollHdr), "collective header %v != %v", out.CollHdr, f.CollHdr)
		tassert.Errorf(t, bytes.Equal(out.Payload, f.Payload), "payload mismatch")
	}
}

func TestFrameNegativeTagAndWidths(t *testing.T) {
	f := &Frame{Hdr: Header{Command: cmn.CmdRaw, Tag: -2147483648, Sender: 4294967295}}
	var buf bytes.Buffer
	tassert.CheckFatal(t, writeFrame(&buf, f))
	tassert.Errorf(t, buf.Len() == hdrSize, "header-only frame is %d bytes", buf.Len())
	out, err := readFrame(&buf)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, out.Hdr.Tag == -2147483648, "tag %d", out.Hdr.Tag)
	tassert.Errorf(t, out.Hdr.Sender == 4294967295, "sender %d", out.Hdr.Sender)
}

func TestFrameRejectsUnknownCommand(t *testing.T) {
	f := &Frame{Hdr: Header{Command: cmn.CmdHello}}
	var buf bytes.Buffer
	tassert.CheckFatal(t, writeFrame(&buf, f))
	raw := buf.Bytes()
	raw[0], raw[1] = 0xff, 0xff
	_, err := readFrame(bytes.NewReader(raw))
	tassert.Errorf(t, err != nil, "framing violation accepted")
}

func TestCollHdrTooLong(t *testing.T) {
	f := &Frame{
		Hdr:     Header{Command: cmn.CmdBytes},
		CollHdr: make([]byte, 300),
	}
	var buf bytes.Buffer
	err := writeFrame(&buf, f)
	tassert.Errorf(t, err != nil, "oversized collective header accepted")
}
