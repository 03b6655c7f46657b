package hub

import (
	"context"

	"github.com/markus-lassfolk/trackhub/pkg/logx"
)

type scanResult int

const (
	scanCompleted scanResult = iota
	scanAborted
	scanOverflow
	scanFailed
)

func (r scanResult) String() string {
	switch r {
	case scanCompleted:
		return "completed"
	case scanAborted:
		return "aborted"
	case scanOverflow:
		return "overflow"
	case scanFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// samplingState is what has been delivered for the selected track so far.
// Only the notification goroutine touches it.
type samplingState struct {
	trackID     int64
	firstSeenID int64
	lastSeenID  int64
	numLoaded   int // points sampled in and delivered
	scanned     int // valid points scanned, the stride counter
	stride      int // 0 until the first point of a pass from empty state
	includeNext bool
}

func emptySamplingState(trackID int64) samplingState {
	return samplingState{trackID: trackID, firstSeenID: -1, lastSeenID: -1}
}

// pointPass describes one scan over the selected track's points.
//
// keepState passes resume after the last delivered point and commit the new
// counters. Replay passes (keepState false) start at the first point, stop at
// the last point already delivered to everyone else and commit nothing.
type pointPass struct {
	trackID    int64
	keepState  bool
	recording  bool
	sampledIn  []Subscriber
	sampledOut []Subscriber
}

type pointTargets struct {
	sampledIn  []Subscriber
	sampledOut []Subscriber
	clear      []Subscriber
}

// sampler decides which stored points are delivered, keeping the delivered
// count under maxPoints by resampling at a larger stride on overflow.
type sampler struct {
	store     TrackStore
	maxPoints int
	target    int
	logger    *logx.Logger
	perf      *logx.PerformanceLogger
	rec       Recorder

	// live returns the currently selected track id
	live func() int64
	// targets returns every subscriber interested in points, for resampling
	targets func() pointTargets

	state     samplingState
	minStride int
}

func (s *sampler) reset(trackID int64) {
	s.state = emptySamplingState(trackID)
	s.minStride = 0
}

// run executes the pass. When the delivered count would exceed the cap it
// restarts once from the first point at a larger stride; the restarted scan
// samples out whatever no longer fits.
func (s *sampler) run(ctx context.Context, p pointPass) {
	if len(p.sampledIn) == 0 && len(p.sampledOut) == 0 {
		return
	}

	canOverflow := true
	for {
		result, stride, loaded := s.scan(ctx, p, canOverflow)
		if result != scanOverflow {
			if s.minStride > 0 && result == scanCompleted {
				s.rec.Resampled(s.state.stride)
				s.minStride = 0
			}
			break
		}

		s.logger.Info("resampling track points",
			"track_id", p.trackID,
			"loaded_points", loaded,
			"previous_stride", stride,
		)
		s.reset(p.trackID)
		s.minStride = stride + 1
		canOverflow = false

		targets := s.targets()
		deliver(s.rec, EventClearTrackPoints, targets.clear, func(sub Subscriber) { sub.ClearTrackPoints() })
		p = pointPass{
			trackID:    p.trackID,
			keepState:  true,
			recording:  p.recording,
			sampledIn:  targets.sampledIn,
			sampledOut: targets.sampledOut,
		}
	}

	deliver(s.rec, EventNewTrackPointsDone, p.sampledIn, func(sub Subscriber) { sub.OnNewTrackPointsDone() })
}

func (s *sampler) strideFor(lastStoredID, firstSeenID int64) int {
	span := lastStoredID - firstSeenID
	if span < 0 {
		span = 0
	}
	stride := 1 + int(span/int64(s.target))
	if stride < s.minStride {
		stride = s.minStride
	}
	return stride
}

// scan performs a single pass. It returns the result, the stride in use and
// the number of points delivered in this pass' sampling state.
//
// At the cap only a point on the stride boundary reports an overflow, and
// only when canOverflow is set. Forced inclusions after a split and every
// point past the cap otherwise are sampled out.
func (s *sampler) scan(ctx context.Context, p pointPass, canOverflow bool) (scanResult, int, int) {
	op := s.perf.StartOperation("points_scan")

	var local samplingState
	startID, maxID := int64(0), int64(-1)
	if p.keepState {
		local = s.state
		startID = local.lastSeenID + 1
	} else {
		if s.state.lastSeenID < 0 {
			op.Complete(nil)
			return scanCompleted, s.state.stride, 0
		}
		local = emptySamplingState(p.trackID)
		local.stride = s.state.stride
		maxID = s.state.lastSeenID
	}

	lastStoredID, err := s.store.LastPointID(ctx, p.trackID)
	if err != nil {
		op.Complete(err)
		s.rec.ScanFinished(scanFailed.String(), 0)
		return scanFailed, local.stride, local.numLoaded
	}

	it, err := s.store.Points(ctx, p.trackID, startID)
	if err != nil {
		op.Complete(err)
		s.rec.ScanFinished(scanFailed.String(), 0)
		return scanFailed, local.stride, local.numLoaded
	}
	defer func() {
		if cerr := it.Close(); cerr != nil {
			s.logger.Warn("failed to close point iterator", "track_id", p.trackID, "error", cerr)
		}
	}()

	result := scanCompleted
	scanned := 0
	for it.Next() {
		if s.live() != p.trackID {
			result = scanAborted
			break
		}

		point := it.Point()
		if maxID >= 0 && point.ID > maxID {
			break
		}
		scanned++

		if local.firstSeenID < 0 {
			local.firstSeenID = point.ID
		}
		if local.stride == 0 {
			local.stride = s.strideFor(lastStoredID, local.firstSeenID)
		}

		if !point.Location.IsValid() {
			deliver(s.rec, EventSegmentSplit, p.sampledIn, func(sub Subscriber) { sub.OnSegmentSplit() })
			local.includeNext = true
			local.lastSeenID = point.ID
			continue
		}

		onStride := local.scanned%local.stride == 0
		include := local.includeNext || onStride ||
			(!p.recording && point.ID == lastStoredID)
		local.scanned++

		if include && local.numLoaded >= s.maxPoints {
			if p.keepState && canOverflow && onStride {
				result = scanOverflow
				break
			}
			include = false
		}

		if include {
			local.includeNext = false
			local.numLoaded++
			deliver(s.rec, EventNewTrackPoint, p.sampledIn, func(sub Subscriber) { sub.OnNewTrackPoint(point) })
		} else {
			deliver(s.rec, EventSampledOutTrackPoint, p.sampledOut, func(sub Subscriber) { sub.OnSampledOutTrackPoint(point) })
		}
		local.lastSeenID = point.ID
	}
	op.AddItems(scanned)

	if result == scanCompleted {
		if err := it.Err(); err != nil {
			// Keep what was delivered; the next store change resumes from there.
			result = scanFailed
			op.Complete(err)
		} else {
			op.Complete(nil)
		}
		if p.keepState {
			s.state = local
		}
	} else {
		op.Complete(nil)
	}

	s.rec.ScanFinished(result.String(), scanned)
	if result != scanCompleted {
		s.logger.Debug("point scan ended early",
			"track_id", p.trackID,
			"result", result.String(),
			"scanned", scanned,
			"keep_state", p.keepState,
		)
	}
	return result, local.stride, local.numLoaded
}
