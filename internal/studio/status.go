package studio

import "github.com/leorm1110/music-mixer-ai/internal/transport"

// TrackStatus describes one track for display.
type TrackStatus struct {
	Name   string  `json:"name"`
	Volume float64 `json:"volume"`
	Muted  bool    `json:"muted"`
	Gain   float64 `json:"gain"`
	Master bool    `json:"master"`
	Solo   bool    `json:"solo"`
}

// Status is a point-in-time view of the studio.
type Status struct {
	Loaded      bool          `json:"loaded"`
	SessionID   string        `json:"session_id,omitempty"`
	SessionPath string        `json:"session_path,omitempty"`
	Tracks      []TrackStatus `json:"tracks"`
	Solo        string        `json:"solo,omitempty"`
	Master      string        `json:"master,omitempty"`
	Playing     bool          `json:"playing"`
	Position    float64       `json:"position"`
	Duration    float64       `json:"duration"`
	Elapsed     string        `json:"elapsed"`
	Total       string        `json:"total"`
	SyncRunning bool          `json:"sync_running"`
	Snaps       uint64        `json:"snaps"`
	Uploading   bool          `json:"uploading"`
	Exporting   bool          `json:"exporting"`
}

// Status snapshots the current session.
func (s *Studio) Status() Status {
	s.mu.RLock()
	sess, ctrl, syn := s.session, s.ctrl, s.sync
	s.mu.RUnlock()

	st := Status{
		Tracks:    []TrackStatus{},
		Elapsed:   transport.FormatClock(0),
		Total:     transport.FormatClock(0),
		Uploading: s.uploading.Load(),
		Exporting: s.exporting.Load(),
	}
	if sess == nil {
		return st
	}

	st.Loaded = true
	st.SessionID = sess.ID()
	st.SessionPath = sess.Path()
	st.Solo = sess.Solo()
	if m, ok := sess.Master(); ok {
		st.Master = m.Name
	}
	for _, t := range sess.Tracks() {
		g, _ := sess.Gain(t.Name)
		st.Tracks = append(st.Tracks, TrackStatus{
			Name:   t.Name,
			Volume: t.Volume,
			Muted:  t.Muted,
			Gain:   g,
			Master: t.Name == st.Master,
			Solo:   t.Name == st.Solo,
		})
	}
	st.Playing = ctrl.Playing()
	st.Position = ctrl.Position()
	st.Duration = ctrl.Duration()
	st.Elapsed = transport.FormatClock(st.Position)
	st.Total = transport.FormatClock(st.Duration)
	st.SyncRunning = syn.Running()
	st.Snaps = syn.Snaps()
	return st
}
