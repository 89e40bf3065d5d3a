package queue

import "time"

// DetectionJob is the JSON body of a TypeDetection message: a raw device
// sighting waiting for face recognition.
type DetectionJob struct {
	DeviceID   string    `json:"device_id"`
	ImageURL   string    `json:"image_url"`
	OccurredAt time.Time `json:"occurred_at"`
}
