package domain

// DownloadStatus represents the current state of a single download.
type DownloadStatus string

const (
	DownloadStatusPending    DownloadStatus = "pending"
	DownloadStatusInProgress DownloadStatus = "in_progress"
	DownloadStatusCompleted  DownloadStatus = "completed"
	DownloadStatusFailed     DownloadStatus = "failed"
	DownloadStatusCancelled  DownloadStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s DownloadStatus) Terminal() bool {
	return s == DownloadStatusCompleted || s == DownloadStatusFailed || s == DownloadStatusCancelled
}

// UpdateStatus represents the current state of an update job.
type UpdateStatus string

const (
	UpdateStatusPending     UpdateStatus = "pending"
	UpdateStatusDownloading UpdateStatus = "downloading"
	UpdateStatusVerifying   UpdateStatus = "verifying"
	UpdateStatusInstalling  UpdateStatus = "installing"
	UpdateStatusCompleted   UpdateStatus = "completed"
	UpdateStatusFailed      UpdateStatus = "failed"
)

var updateOrder = map[UpdateStatus]int{
	UpdateStatusPending:     0,
	UpdateStatusDownloading: 1,
	UpdateStatusVerifying:   2,
	UpdateStatusInstalling:  3,
	UpdateStatusCompleted:   4,
	UpdateStatusFailed:      4,
}

// Terminal reports whether the job has finished.
func (s UpdateStatus) Terminal() bool {
	return s == UpdateStatusCompleted || s == UpdateStatusFailed
}

// CanTransition reports whether moving from s to next keeps statuses monotonic.
func (s UpdateStatus) CanTransition(next UpdateStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == UpdateStatusFailed {
		return true
	}
	return updateOrder[next] > updateOrder[s]
}
