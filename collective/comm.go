// Package collective implements the collective-operation controller and the
// algorithm family behind broadcast, barrier, reduce, allreduce, scan,
// scatter, gather, allgather, and alltoall. Algorithms are selected per tag
// from an ordered candidate list and may be overtaken on receiving ranks
// when the first inbound frame advertises a different class.
/*
 * Copyright (c) 2024-2026, gompi authors. All rights reserved.
 */
package collective

import (
	"github.com/gompi/gompi/cmn"
	"github.com/gompi/gompi/topology"
	"github.com/sirupsen/logrus"
	"github.com/tinylib/msgp/msgp"
)

// ClassID identifies one algorithm class on the wire (the collective
// header). Values are stable across the cohort.
type ClassID uint8

const (
	ClassNone ClassID = iota

	ClassFlatBcast
	ClassBinomialBcast
	ClassStaticBcast

	ClassFlatBarrier
	ClassBinomialBarrier
	ClassStaticBarrier

	ClassFlatReduce
	ClassBinomialReduce
	ClassStaticReduce

	ClassFlatAllreduce
	ClassBinomialAllreduce
	ClassStaticAllreduce

	ClassFlatScan
	ClassBinomialScan
	ClassStaticScan

	ClassFlatScatter
	ClassBinomialScatter
	ClassStaticScatter

	ClassFlatGather
	ClassBinomialGather
	ClassStaticGather

	ClassDisseminationAllgather
	ClassNaiveAlltoall
)

// Comm is the slice of the engine a collective request needs: identity,
// settings, cached topologies, and framed sends. Implemented by
// mpi.Comm; accepting the interface keeps this package engine-free.
type Comm interface {
	Rank() int
	Size() int
	CommName() string
	Settings() *cmn.Settings
	Tree(kind topology.Kind, root int) *topology.Tree

	// SendValue encodes v and frames it to dst under tag, advertising the
	// sender's algorithm class in the collective header.
	SendValue(dst int, tag int32, class ClassID, v any) error
	// SendRaw re-emits already-encoded payload bytes unchanged (transit
	// forwarding; no re-encoding).
	SendRaw(dst int, tag int32, class ClassID, cmd uint16, payload []byte) error

	Logp() *logrus.Entry
}

// Args are the initial arguments of one collective invocation; they are
// retained verbatim so an overtaking request can be rebuilt from them.
type Args struct {
	Data any
	Op   *Op
	Root int
}

// EncodeCollHdr packs the algorithm class into the frame's collective
// header tuple.
func EncodeCollHdr(class ClassID) []byte {
	b := msgp.AppendArrayHeader(make([]byte, 0, 3), 1)
	return msgp.AppendUint8(b, uint8(class))
}

// DecodeCollHdr is the inverse; ClassNone for an empty header.
func DecodeCollHdr(b []byte) ClassID {
	if len(b) == 0 {
		return ClassNone
	}
	_, rest, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return ClassNone
	}
	v, _, err := msgp.ReadUint8Bytes(rest)
	if err != nil {
		return ClassNone
	}
	return ClassID(v)
}
