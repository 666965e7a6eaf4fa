package scan

import "sync/atomic"

// ProgressEvent is one progress notification. Done marks the terminal event
// of a run; Completed and Total then hold the final counts.
type ProgressEvent struct {
	Completed int  `json:"completed"`
	Total     int  `json:"total"`
	Done      bool `json:"done"`
}

// ProgressSink receives progress from the analysis pipeline: one event per
// analysed file, then a single Done event. Report is called from the goroutine
// that runs Analyze.
type ProgressSink interface {
	Report(ev ProgressEvent)
}

// SinkFunc adapts a function to ProgressSink.
type SinkFunc func(ev ProgressEvent)

func (f SinkFunc) Report(ev ProgressEvent) { f(ev) }

// ChanSink delivers events on a buffered channel. Intermediate events are
// dropped while the buffer is full so a slow or absent reader never stalls
// the pipeline. The Done event always gets in, evicting the oldest buffered
// event if needed, and the channel is closed after it.
type ChanSink struct {
	c      chan ProgressEvent
	closed atomic.Bool
}

// NewChanSink returns a ChanSink with the given buffer size (minimum 1).
func NewChanSink(buffer int) *ChanSink {
	return &ChanSink{c: make(chan ProgressEvent, max(buffer, 1))}
}

// C returns the receive side of the sink.
func (s *ChanSink) C() <-chan ProgressEvent { return s.c }

func (s *ChanSink) Report(ev ProgressEvent) {
	if s.closed.Load() {
		return
	}
	if !ev.Done {
		select {
		case s.c <- ev:
		default:
		}
		return
	}
	for {
		select {
		case s.c <- ev:
			if s.closed.CompareAndSwap(false, true) {
				close(s.c)
			}
			return
		default:
		}
		select {
		case <-s.c:
		default:
		}
	}
}

// Phase names the stage a scan is in.
type Phase string

const (
	PhaseDiscovering Phase = "discovering"
	PhaseAnalyzing   Phase = "analyzing"
	PhaseGrouping    Phase = "grouping"
	PhaseDone        Phase = "done"
)

// Progress holds live counters for a scan. All fields are atomic so they can
// be written by the pipeline and read by HTTP handlers without locks.
// Progress is itself a ProgressSink for the analysis phase.
type Progress struct {
	phase atomic.Value // Phase

	FilesDiscovered atomic.Int64
	FilesAnalyzed   atomic.Int64
	FilesTotal      atomic.Int64
	DecodeErrors    atomic.Int64
	AnalysisDone    atomic.Bool
	PairsCompared   atomic.Int64
	PairsRetained   atomic.Int64
	Groups          atomic.Int64
}

// SetPhase records the current stage.
func (p *Progress) SetPhase(ph Phase) { p.phase.Store(ph) }

// Phase returns the current stage, or "" before the scan starts.
func (p *Progress) Phase() Phase {
	if v, ok := p.phase.Load().(Phase); ok {
		return v
	}
	return ""
}

func (p *Progress) Report(ev ProgressEvent) {
	p.FilesAnalyzed.Store(int64(ev.Completed))
	p.FilesTotal.Store(int64(ev.Total))
	if ev.Done {
		p.AnalysisDone.Store(true)
	}
}

// Snapshot is a plain copy of Progress for serialisation.
type Snapshot struct {
	Phase           Phase `json:"phase"`
	FilesDiscovered int64 `json:"files_discovered"`
	FilesAnalyzed   int64 `json:"files_analyzed"`
	FilesTotal      int64 `json:"files_total"`
	DecodeErrors    int64 `json:"decode_errors"`
	AnalysisDone    bool  `json:"analysis_done"`
	PairsCompared   int64 `json:"pairs_compared"`
	PairsRetained   int64 `json:"pairs_retained"`
	Groups          int64 `json:"groups"`
}

// Snapshot reads every counter once.
func (p *Progress) Snapshot() Snapshot {
	return Snapshot{
		Phase:           p.Phase(),
		FilesDiscovered: p.FilesDiscovered.Load(),
		FilesAnalyzed:   p.FilesAnalyzed.Load(),
		FilesTotal:      p.FilesTotal.Load(),
		DecodeErrors:    p.DecodeErrors.Load(),
		AnalysisDone:    p.AnalysisDone.Load(),
		PairsCompared:   p.PairsCompared.Load(),
		PairsRetained:   p.PairsRetained.Load(),
		Groups:          p.Groups.Load(),
	}
}
