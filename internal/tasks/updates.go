package tasks

import "fmt"

// ProgressUpdate represents a progress event during a sync run.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase   // Operation phase
	Step    int     // Current step number within phase
	Total   int     // Total steps in this phase
	Message string  // Human-readable message for display
	Asset   string  // Asset filename or id, when the update concerns one asset
	Speed   float64 // Rolling throughput in assets per minute
}

// Operation phase enumeration
type Phase int

const (
	Validate Phase = iota
	Discover
	Process
	Retry
	Summary
)

func (p Phase) String() string {
	switch p {
	case Validate:
		return "validate"
	case Discover:
		return "discover"
	case Process:
		return "process"
	case Retry:
		return "retry"
	case Summary:
		return "summary"
	default:
		return ""
	}
}

func discoverStartUpdate() ProgressUpdate {
	return ProgressUpdate{
		Phase:   Discover,
		Total:   1,
		Message: "Discovering assets from photo library...",
	}
}

func discoverDoneUpdate(total, images, videos int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Discover,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Found %d assets (%d images, %d videos)", total, images, videos),
	}
}

func assetStartUpdate(step, total int, name string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Process,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Processing %s", name),
		Asset:   name,
	}
}

func assetDoneUpdate(step, total int, name string, speed float64) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Process,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Uploaded %s", name),
		Asset:   name,
		Speed:   speed,
	}
}

func assetFailedUpdate(step, total int, name string, speed float64) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Process,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Failed %s", name),
		Asset:   name,
		Speed:   speed,
	}
}

func retryWaitUpdate(step, total int, name string, attempt, maxAttempts int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Retry,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Retrying %s (attempt %d/%d)", name, attempt, maxAttempts),
		Asset:   name,
	}
}

func summaryUpdate(outcome Outcome, completed, failed, pending int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Summary,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Run %s: %d completed, %d failed, %d pending", outcome, completed, failed, pending),
	}
}
