package receiver

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"beaconrig/domain/rig"
)

// Columns of the receiver log
var Columns = []string{"ms", "event", "rssi", "seq", "label", "addr", "mfd"}

// WriteTrial writes the header comment block and one row per event
func WriteTrial(w io.Writer, trial *rig.ReceiverTrial) error {
	h := trial.Header
	if _, err := fmt.Fprintf(w, "# firmware=%s\n# scan_duty=%s\n# duplicates_allowed=%t\n# foreground=%t\n# condition_label=%s\n# repeat=%d\n",
		h.Firmware, strconv.FormatFloat(h.ScanDuty, 'f', -1, 64), h.DuplicatesAllowed, h.Foreground, h.ConditionLabel, h.Repeat); err != nil {
		return err
	}
	if h.TrialDurationMS > 0 {
		if _, err := fmt.Fprintf(w, "# trial_duration_ms=%s\n", strconv.FormatFloat(float64(h.TrialDurationMS), 'f', -1, 64)); err != nil {
			return err
		}
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, e := range trial.Events {
		rssi := ""
		if e.RSSI != nil {
			rssi = strconv.Itoa(*e.RSSI)
		}
		row := []string{
			strconv.FormatFloat(float64(e.RelativeMS), 'f', -1, 64),
			e.Event,
			rssi,
			strconv.Itoa(e.Sequence),
			e.Label,
			e.PeerID,
			e.RawTag,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// DirStore saves each trial as rx_trial_<n>.csv
type DirStore struct {
	Dir  string
	next int
}

// NewDirStore creates the directory if needed
func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DirStore{Dir: dir, next: 1}, nil
}

func (s *DirStore) Save(trial *rig.ReceiverTrial) error {
	path := filepath.Join(s.Dir, fmt.Sprintf("rx_trial_%03d.csv", s.next))
	s.next++
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := WriteTrial(bw, trial); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	trial.Source = path
	return f.Close()
}
