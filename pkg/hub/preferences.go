package hub

import "github.com/markus-lassfolk/trackhub/pkg"

// loadSelection reads the persisted selected and recording track ids.
func (h *Hub) loadSelection() {
	h.selectedTrackID.Store(h.prefs.GetInt64(KeySelectedTrackID, -1))
	h.recordingTrackID.Store(h.prefs.GetInt64(KeyRecordingTrackID, -1))
	h.selectionLoaded.Store(true)
}

// loadPreferences reads cached display preferences without notifying anyone.
func (h *Hub) loadPreferences() {
	h.metricUnits = h.prefs.GetBool(KeyMetricUnits, true)
	h.reportSpeed = h.prefs.GetBool(KeyReportSpeed, true)
	h.minRequiredAccuracy = h.prefs.GetInt(KeyMinRequiredAccuracy, pkg.DefaultMinRequiredAccuracy)
}

// onPreferenceChanged applies a preference change. An empty key re-reads
// every watched key. Display preference changes are put to a vote and at
// most one full reload follows, however many subscribers ask for it.
func (h *Hub) onPreferenceChanged(key string) {
	all := key == ""
	reload := false

	if all || key == KeyRecordingTrackID {
		recording := h.prefs.GetInt64(KeyRecordingTrackID, -1)
		if previous := h.recordingTrackID.Swap(recording); previous != recording {
			h.logger.Debug("recording track changed", "from", previous, "to", recording)
		}
	}

	if all || key == KeyMinRequiredAccuracy {
		h.minRequiredAccuracy = h.prefs.GetInt(KeyMinRequiredAccuracy, pkg.DefaultMinRequiredAccuracy)
	}

	if all || key == KeyMetricUnits {
		metric := h.prefs.GetBool(KeyMetricUnits, true)
		if metric != h.metricUnits {
			h.metricUnits = metric
			if h.vote(EventUnitsChanged, func(s Subscriber) bool { return s.OnUnitsChanged(metric) }) {
				reload = true
			}
		}
	}

	if all || key == KeyReportSpeed {
		speed := h.prefs.GetBool(KeyReportSpeed, true)
		if speed != h.reportSpeed {
			h.reportSpeed = speed
			if h.vote(EventReportSpeedChanged, func(s Subscriber) bool { return s.OnReportSpeedChanged(speed) }) {
				reload = true
			}
		}
	}

	if all || key == KeySelectedTrackID {
		selected := h.prefs.GetInt64(KeySelectedTrackID, -1)
		if selected != h.selectedTrackID.Load() {
			h.logger.Info("selected track changed externally", "track_id", selected)
			h.selectedTrackID.Store(selected)
			reload = true
		}
	}

	if reload {
		h.loadDataForAll()
	}
}

// vote asks every display preference subscriber and reports whether any
// of them wants a reload. Every subscriber is asked.
func (h *Hub) vote(event string, ask func(Subscriber) bool) bool {
	reload := false
	deliver(h.rec, event, h.registry.subscribersFor(DisplayPreferences), func(s Subscriber) {
		if ask(s) {
			reload = true
		}
	})
	return reload
}

func (h *Hub) notifyPreferences(subs []Subscriber) {
	metric, speed := h.metricUnits, h.reportSpeed
	deliver(h.rec, EventUnitsChanged, subs, func(s Subscriber) { s.OnUnitsChanged(metric) })
	deliver(h.rec, EventReportSpeedChanged, subs, func(s Subscriber) { s.OnReportSpeedChanged(speed) })
}
