package domain

// Progress is a cumulative download progress report. TotalBytes is nil when
// the size is not known, in which case progress is indeterminate.
type Progress struct {
	BytesReceived int64  `json:"bytes_received"`
	TotalBytes    *int64 `json:"total_bytes,omitempty"`
}

// Fraction returns received/total in [0,1] and false when total is unknown.
func (p Progress) Fraction() (float64, bool) {
	if p.TotalBytes == nil || *p.TotalBytes <= 0 {
		return 0, false
	}
	f := float64(p.BytesReceived) / float64(*p.TotalBytes)
	if f > 1 {
		f = 1
	}
	return f, true
}

// ProgressFunc receives progress after every chunk.
type ProgressFunc func(Progress)

// DownloadTask is owned by the downloader for the lifetime of one transfer.
type DownloadTask struct {
	Source          ResolvedSource
	DestinationPath string
	BytesReceived   int64
	TotalBytes      *int64
	Status          DownloadStatus
}

// NewDownloadTask creates a pending task.
func NewDownloadTask(src ResolvedSource, dest string) *DownloadTask {
	return &DownloadTask{Source: src, DestinationPath: dest, Status: DownloadStatusPending}
}

// Transition moves the task to next unless it is already terminal.
func (t *DownloadTask) Transition(next DownloadStatus) bool {
	if t.Status.Terminal() {
		return false
	}
	t.Status = next
	return true
}

// Progress snapshots the task's counters.
func (t *DownloadTask) Progress() Progress {
	return Progress{BytesReceived: t.BytesReceived, TotalBytes: t.TotalBytes}
}
