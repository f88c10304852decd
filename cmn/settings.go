// Package cmn provides common types shared by the gompi runtime.
/*
 * Copyright (c) 2024-2026, gompi authors. All rights reserved.
 */
package cmn

import (
	"math"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

const (
	dfltFlatTreeMax  = 10
	dfltStaticFanout = 2
	dfltSockBufSize  = 256 * 1024
	dfltLogDir       = "/tmp/gompi"
	dfltLogLevel     = "info"
)

// Settings is the read-only bag of tunables distributed by the launcher.
// Tree acceptance bounds resolve most-specific-first: a collective override
// such as "BCAST_FLAT_TREE_MAX" (in Overrides) shadows the generic
// FlatTree bound; an algorithm class with no bounds at all accepts any size.
type Settings struct {
	Overrides       map[string]int `json:"overrides,omitempty"`
	LogDir          string         `json:"log_dir"`
	LogLevel        string         `json:"log_level"`
	FlatTreeMin     int            `json:"flat_tree_min"`
	FlatTreeMax     int            `json:"flat_tree_max"`
	BinomialTreeMin int            `json:"binomial_tree_min"`
	BinomialTreeMax int            `json:"binomial_tree_max"`
	StaticFanoutMin int            `json:"static_fanout_min"`
	StaticFanoutMax int            `json:"static_fanout_max"`
	StaticFanout    int            `json:"static_tree_fanout_count"`
	SockBufSize     int            `json:"sock_buf_size"`
}

func DefaultSettings() *Settings {
	return &Settings{
		FlatTreeMin:     0,
		FlatTreeMax:     dfltFlatTreeMax,
		BinomialTreeMin: 0,
		BinomialTreeMax: math.MaxInt32,
		StaticFanoutMin: 0,
		StaticFanoutMax: math.MaxInt32,
		StaticFanout:    dfltStaticFanout,
		SockBufSize:     dfltSockBufSize,
		LogDir:          dfltLogDir,
		LogLevel:        dfltLogLevel,
	}
}

// LoadSettings merges a JSON settings file (optional) over the defaults.
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()
	if path == "" {
		return s, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "settings %q", path)
	}
	if err := jsoniter.Unmarshal(b, s); err != nil {
		return nil, errors.Wrapf(err, "settings %q", path)
	}
	return s, nil
}

// Tree prefixes used in override keys.
const (
	PrefixFlatTree     = "FLAT_TREE"
	PrefixBinomialTree = "BINOMIAL_TREE"
	PrefixStaticFanout = "STATIC_FANOUT"
)

// AcceptRange resolves the [min, max] communicator-size bounds for an
// algorithm class: "<COLL>_<TREE>_MIN" first, generic "<TREE>_MIN" second.
func (s *Settings) AcceptRange(collPrefix, treePrefix string) (accMin, accMax int) {
	accMin, accMax = s.genericRange(treePrefix)
	if collPrefix == "" {
		return
	}
	if v, ok := s.Overrides[collPrefix+"_"+treePrefix+"_MIN"]; ok {
		accMin = v
	}
	if v, ok := s.Overrides[collPrefix+"_"+treePrefix+"_MAX"]; ok {
		accMax = v
	}
	return
}

func (s *Settings) genericRange(treePrefix string) (accMin, accMax int) {
	switch treePrefix {
	case PrefixFlatTree:
		accMin, accMax = s.FlatTreeMin, s.FlatTreeMax
	case PrefixBinomialTree:
		accMin, accMax = s.BinomialTreeMin, s.BinomialTreeMax
	case PrefixStaticFanout:
		accMin, accMax = s.StaticFanoutMin, s.StaticFanoutMax
	default:
		accMin, accMax = 0, math.MaxInt32
	}
	if v, ok := s.Overrides[treePrefix+"_MIN"]; ok {
		accMin = v
	}
	if v, ok := s.Overrides[treePrefix+"_MAX"]; ok {
		accMax = v
	}
	return accMin, accMax
}

// Clone returns a deep copy (tests patch per-rank overrides).
func (s *Settings) Clone() *Settings {
	clone := *s
	if s.Overrides != nil {
		clone.Overrides = make(map[string]int, len(s.Overrides))
		for k, v := range s.Overrides {
			clone.Overrides[k] = v
		}
	}
	return &clone
}
