// Package cmn provides common types shared by the gompi runtime.
/*
 * Copyright (c) 2024-2026, gompi authors. All rights reserved.
 */
package cmn

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Environment contract between the launcher and mpi.Init.
const (
	EnvRank     = "GOMPI_RANK"
	EnvSize     = "GOMPI_SIZE"
	EnvJob      = "GOMPI_JOB"
	EnvPeers    = "GOMPI_PEERS"    // comma-separated rank:host:port
	EnvSettings = "GOMPI_SETTINGS" // optional settings file path
	EnvLogDir   = "GOMPI_LOGDIR"   // optional log dir override
)

type (
	// Peer locates one rank of the cohort.
	Peer struct {
		Host string
		Rank int
		Port int
	}

	// LaunchInfo is everything a process needs to join the cohort.
	LaunchInfo struct {
		Settings *Settings
		Job      string
		Peers    []Peer
		Rank     int
		Size     int
	}
)

func (p Peer) Addr() string { return fmt.Sprintf("%s:%d", p.Host, p.Port) }

// LaunchFromEnv reads the launcher's environment contract.
func LaunchFromEnv() (*LaunchInfo, error) {
	rank, err := envInt(EnvRank)
	if err != nil {
		return nil, err
	}
	size, err := envInt(EnvSize)
	if err != nil {
		return nil, err
	}
	peers, err := ParsePeers(os.Getenv(EnvPeers))
	if err != nil {
		return nil, err
	}
	settings, err := LoadSettings(os.Getenv(EnvSettings))
	if err != nil {
		return nil, err
	}
	if dir := os.Getenv(EnvLogDir); dir != "" {
		settings.LogDir = dir
	}
	li := &LaunchInfo{
		Job:      os.Getenv(EnvJob),
		Peers:    peers,
		Rank:     rank,
		Size:     size,
		Settings: settings,
	}
	if li.Job == "" {
		li.Job = "world"
	}
	return li, li.Validate()
}

// ParsePeers parses the comma-separated "rank:host:port" list.
func ParsePeers(s string) ([]Peer, error) {
	if s == "" {
		return nil, errors.Errorf("%s: empty peer list", EnvPeers)
	}
	parts := strings.Split(s, ",")
	peers := make([]Peer, 0, len(parts))
	for _, part := range parts {
		fields := strings.Split(strings.TrimSpace(part), ":")
		if len(fields) != 3 {
			return nil, errors.Errorf("malformed peer %q", part)
		}
		rank, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, errors.Wrapf(err, "peer rank %q", part)
		}
		port, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, errors.Wrapf(err, "peer port %q", part)
		}
		peers = append(peers, Peer{Rank: rank, Host: fields[1], Port: port})
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].Rank < peers[j].Rank })
	return peers, nil
}

// FormatPeers is the inverse of ParsePeers (used by the launcher).
func FormatPeers(peers []Peer) string {
	parts := make([]string, len(peers))
	for i, p := range peers {
		parts[i] = fmt.Sprintf("%d:%s:%d", p.Rank, p.Host, p.Port)
	}
	return strings.Join(parts, ",")
}

func (li *LaunchInfo) Validate() error {
	if li.Size <= 0 {
		return NewErrMPI("cohort size %d", li.Size)
	}
	if li.Rank < 0 || li.Rank >= li.Size {
		return NewErrMPI("rank %d outside [0, %d)", li.Rank, li.Size)
	}
	if len(li.Peers) != li.Size {
		return NewErrMPI("peer list holds %d entries, size is %d", len(li.Peers), li.Size)
	}
	for i, p := range li.Peers {
		if p.Rank != i {
			return NewErrMPI("peer list: expected rank %d, got %d", i, p.Rank)
		}
	}
	return nil
}

func envInt(name string) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return 0, errors.Errorf("%s not set (not launched via gompirun?)", name)
	}
	return strconv.Atoi(v)
}
