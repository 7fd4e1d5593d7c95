package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/LavishGent/freshline/pkg/freshline"
)

// Output formats.
const (
	formatText = "text"
	formatJSON = "json"
)

type snapshotView struct {
	Key       string          `json:"key"`
	FetchedAt *time.Time      `json:"fetchedAt,omitempty"`
	Fresh     bool            `json:"fresh"`
	Stale     bool            `json:"stale"`
	Loading   bool            `json:"loading"`
	Error     *errorView      `json:"error,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Body      string          `json:"body,omitempty"`
}

type errorView struct {
	Code    freshline.Code `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"status,omitempty"`
}

func newSnapshotView(s freshline.Snapshot) snapshotView {
	v := snapshotView{
		Key:     s.Key,
		Fresh:   s.Fresh,
		Stale:   s.Stale,
		Loading: s.Loading,
	}
	if s.HasData {
		at := s.FetchedAt
		v.FetchedAt = &at
		if json.Valid(s.Payload) {
			v.Payload = json.RawMessage(s.Payload)
		} else {
			v.Body = string(s.Payload)
		}
	}
	if s.Err != nil {
		v.Error = &errorView{Code: s.Err.Code, Message: s.Err.Message, Status: s.Err.StatusCode}
	}
	return v
}

// printSnapshot writes s to w in the given format. Text output is one
// summary line, followed by the payload when showBody is set.
func printSnapshot(w io.Writer, format string, s freshline.Snapshot, now time.Time, showBody bool) error {
	switch format {
	case formatJSON:
		return json.NewEncoder(w).Encode(newSnapshotView(s))
	case formatText:
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	line := fmt.Sprintf("[%s] %s", now.Format(time.TimeOnly), s.Key)
	switch {
	case s.Loading:
		line += " loading"
	case s.HasData:
		line += fmt.Sprintf(" fresh=%t stale=%t age=%s bytes=%d", s.Fresh, s.Stale, s.Age(now).Round(time.Millisecond), len(s.Payload))
	default:
		line += " no data"
	}
	if s.Err != nil {
		line += fmt.Sprintf(" error=%s", s.Err.Code)
		if s.Err.StatusCode != 0 {
			line += fmt.Sprintf(" status=%d", s.Err.StatusCode)
		}
	}
	if _, err := fmt.Fprintln(w, line); err != nil {
		return err
	}

	if !showBody || !s.HasData {
		return nil
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, s.Payload, "", "  "); err == nil {
		pretty.WriteByte('\n')
		_, err = w.Write(pretty.Bytes())
		return err
	}
	_, err := fmt.Fprintf(w, "%s\n", s.Payload)
	return err
}
