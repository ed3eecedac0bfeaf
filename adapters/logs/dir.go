package logs

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"beaconrig/domain/core"
	"beaconrig/domain/rig"
)

// Failure is a log file that could not be parsed at all
type Failure struct {
	Path string
	Node core.NodeKind
	Err  error
}

// Inputs are all logs of one run plus their content hashes
type Inputs struct {
	Receiver []*rig.ReceiverTrial
	Power    []*rig.PowerTrialRecord
	Hashes   map[string]core.Hash
	Failures []Failure
}

// LoadDirs parses every *.csv under the receiver and power directories in
// name order. Unparsable files are reported as failures, never fatal.
func LoadDirs(receiverDir, powerDir string) (*Inputs, error) {
	in := &Inputs{Hashes: make(map[string]core.Hash)}

	rxFiles, err := listCSV(receiverDir)
	if err != nil {
		return nil, fmt.Errorf("list receiver logs: %w", err)
	}
	for _, path := range rxFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		in.Hashes[path] = core.NewHash(data)
		trial, err := ParseReceiverLog(bytes.NewReader(data), path)
		if err != nil {
			in.Failures = append(in.Failures, Failure{Path: path, Node: core.NodeReceiver, Err: err})
			continue
		}
		in.Receiver = append(in.Receiver, trial)
	}

	pwFiles, err := listCSV(powerDir)
	if err != nil {
		return nil, fmt.Errorf("list power logs: %w", err)
	}
	for _, path := range pwFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		in.Hashes[path] = core.NewHash(data)
		rec, err := ParsePowerLog(bytes.NewReader(data), path)
		if err != nil {
			in.Failures = append(in.Failures, Failure{Path: path, Node: core.NodePower, Err: err})
			continue
		}
		in.Power = append(in.Power, rec)
	}
	return in, nil
}

// HashFile returns the SHA-256 of a file's content
func HashFile(path string) (core.Hash, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return core.NewHash(data), nil
}

func listCSV(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}
