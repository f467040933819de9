package indexer

import (
	"sync"
	"time"
)

// Status is the overall indexing state.
type Status string

const (
	// StatusIdle indicates no indexing pass has run.
	StatusIdle Status = "idle"
	// StatusIndexing indicates indexing is in progress.
	StatusIndexing Status = "indexing"
	// StatusReady indicates indexing is complete and search is available.
	StatusReady Status = "ready"
	// StatusError indicates indexing failed with an error.
	StatusError Status = "error"
)

// Stage is the current step of an indexing pass.
type Stage string

const (
	// StageFetching indicates documentation repositories are being cloned.
	StageFetching Stage = "fetching"
	// StageScanning indicates markdown discovery.
	StageScanning Stage = "scanning"
	// StageParsing indicates markdown parsing.
	StageParsing Stage = "parsing"
	// StageIndexing indicates the lexical rebuild.
	StageIndexing Stage = "indexing"
	// StageEmbedding indicates vector index construction.
	StageEmbedding Stage = "embedding"
	// StageDone indicates the pass finished.
	StageDone Stage = "done"
)

// ProgressSnapshot is an immutable copy of indexing progress.
type ProgressSnapshot struct {
	Status         string  `json:"status"`
	Stage          string  `json:"stage,omitempty"`
	FilesTotal     int     `json:"files_total"`
	FilesParsed    int     `json:"files_parsed"`
	ParseErrors    int     `json:"parse_errors"`
	Documents      int     `json:"documents"`
	Embedded       int     `json:"embedded"`
	EmbedTotal     int     `json:"embed_total"`
	ProgressPct    float64 `json:"progress_pct"`
	ElapsedSeconds int     `json:"elapsed_seconds"`
	ErrorMessage   string  `json:"error_message,omitempty"`
}

// Progress provides thread-safe tracking of an indexing pass.
type Progress struct {
	mu sync.RWMutex

	status       Status
	stage        Stage
	filesTotal   int
	filesParsed  int
	parseErrors  int
	documents    int
	embedded     int
	embedTotal   int
	startTime    time.Time
	endTime      time.Time
	errorMessage string
}

// NewProgress creates an idle progress tracker.
func NewProgress() *Progress {
	return &Progress{status: StatusIdle}
}

// Start resets the tracker for a new pass.
func (p *Progress) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusIndexing
	p.stage = StageScanning
	p.filesTotal, p.filesParsed, p.parseErrors = 0, 0, 0
	p.documents, p.embedded, p.embedTotal = 0, 0, 0
	p.startTime = time.Now()
	p.endTime = time.Time{}
	p.errorMessage = ""
}

// SetStage moves to stage.
func (p *Progress) SetStage(stage Stage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = stage
}

// SetFilesTotal records the number of files to parse and enters the
// parsing stage.
func (p *Progress) SetFilesTotal(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = StageParsing
	p.filesTotal = total
}

// FileParsed counts one parsed file; failed marks a parse error.
func (p *Progress) FileParsed(failed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.filesParsed++
	if failed {
		p.parseErrors++
	}
}

// SetDocuments records the number of documents sent to the indexes.
func (p *Progress) SetDocuments(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.documents = n
}

// UpdateEmbedded records embedding progress and enters the embedding stage.
func (p *Progress) UpdateEmbedded(embedded, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = StageEmbedding
	p.embedded = embedded
	p.embedTotal = total
}

// SetError marks the pass as failed.
func (p *Progress) SetError(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusError
	p.errorMessage = message
	p.endTime = time.Now()
}

// SetReady marks the pass as complete.
func (p *Progress) SetReady() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusReady
	p.stage = StageDone
	p.endTime = time.Now()
}

// IsIndexing returns true while a pass is in progress.
func (p *Progress) IsIndexing() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.status == StatusIndexing
}

// Snapshot returns an immutable copy of the current state.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var progressPct float64
	switch {
	case p.status == StatusReady:
		progressPct = 100
	case p.stage == StageEmbedding && p.embedTotal > 0:
		progressPct = float64(p.embedded) / float64(p.embedTotal) * 100.0
	case p.filesTotal > 0:
		progressPct = float64(p.filesParsed) / float64(p.filesTotal) * 100.0
	}

	var elapsed time.Duration
	switch {
	case p.startTime.IsZero():
	case p.endTime.IsZero():
		elapsed = time.Since(p.startTime)
	default:
		elapsed = p.endTime.Sub(p.startTime)
	}

	return ProgressSnapshot{
		Status:         string(p.status),
		Stage:          string(p.stage),
		FilesTotal:     p.filesTotal,
		FilesParsed:    p.filesParsed,
		ParseErrors:    p.parseErrors,
		Documents:      p.documents,
		Embedded:       p.embedded,
		EmbedTotal:     p.embedTotal,
		ProgressPct:    progressPct,
		ElapsedSeconds: int(elapsed.Seconds()),
		ErrorMessage:   p.errorMessage,
	}
}
